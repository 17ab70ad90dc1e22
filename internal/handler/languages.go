package handler

import (
	"net/http"

	"github.com/coderscreen/coderunner/internal/language"
)

// LanguagesResponse tells the editor which languages can be executed and
// which are rendered client-side in a browser preview instead.
type LanguagesResponse struct {
	Supported  []string `json:"supported"`
	Frameworks []string `json:"frameworks"`
}

// HandleLanguages lists the language identifiers.
//
// HTTP: GET /api/languages
func HandleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, LanguagesResponse{
		Supported:  language.Supported(),
		Frameworks: language.Frameworks(),
	})
}
