package executor

import (
	"time"

	"github.com/rs/xid"

	"github.com/coderscreen/coderunner/internal/model"
	"github.com/coderscreen/coderunner/internal/sandbox"
)

// NoOutputMessage is the stderr of EmptyResponse.
const NoOutputMessage = "No output from execution"

// EmptyResponse is the result used whenever the sandbox answers a command
// with nothing at all. It is a failure, but a well-formed one.
func EmptyResponse() model.ExecutionResult {
	return model.ExecutionResult{
		ID:        xid.New().String(),
		Success:   false,
		Timestamp: sandbox.Now(),
		Stderr:    NoOutputMessage,
		ExitCode:  -1,
	}
}

// Normalize converts a raw sandbox result into an ExecutionResult carrying a
// fresh id and the elapsed wall-clock time. It never panics: a nil raw result
// becomes EmptyResponse.
func Normalize(raw *sandbox.Result, elapsed time.Duration) model.ExecutionResult {
	var res model.ExecutionResult
	if raw == nil {
		res = EmptyResponse()
	} else {
		res = model.ExecutionResult{
			ID:        xid.New().String(),
			Success:   raw.Success,
			Timestamp: raw.Timestamp,
			Stdout:    raw.Stdout,
			Stderr:    raw.Stderr,
			ExitCode:  raw.ExitCode,
		}
		if res.Timestamp == "" {
			res.Timestamp = sandbox.Now()
		}
	}
	res.ElapsedTime = millis(elapsed)
	return res
}

func millis(d time.Duration) int64 {
	return max(0, d.Milliseconds())
}
