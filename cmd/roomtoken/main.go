// Command roomtoken mints a room token for the coderunner API.
//
//	CODERUNNER_JWT_SECRET=... roomtoken -room interview-42 -ttl 2h
//
// The secret is read the same way the server reads it, so a token printed here
// is accepted by a server started with the same configuration.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/coderscreen/coderunner/internal/auth"
	"github.com/coderscreen/coderunner/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	room := flag.String("room", "", "room id the token grants access to")
	ttl := flag.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	flag.Parse()

	token, err := mint(*configPath, *room, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "roomtoken:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func mint(configPath, room string, ttl time.Duration) (string, error) {
	if room == "" {
		return "", errors.New("-room is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if !cfg.AuthEnabled() {
		return "", errors.New("jwt_secret is not configured (set CODERUNNER_JWT_SECRET)")
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return "", err
	}
	return tokens.Generate(room, ttl)
}
