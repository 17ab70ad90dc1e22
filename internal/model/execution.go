// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// ExecutionRequest is one user submission: run Code as Language inside the
// sandbox that belongs to RoomID. It is treated as immutable once dispatched.
type ExecutionRequest struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

// ExecutionResult is the language-agnostic outcome of one execution.
//
// It is the only structure returned to callers. Whether the program failed to
// compile, exited non-zero, or the sandbox produced nothing at all, the caller
// sees the same shape and decides using Success and ExitCode.
//
// ElapsedTime and CompileTime are wall-clock milliseconds. CompileTime is a
// pointer so it disappears from the JSON for interpreted languages
// (`omitempty` drops nil pointers, but would NOT drop a legitimate 0).
type ExecutionResult struct {
	ID          string `json:"id"`
	Success     bool   `json:"success"`
	Timestamp   string `json:"timestamp"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ExitCode    int    `json:"exitCode"`
	ElapsedTime int64  `json:"elapsedTime"`
	CompileTime *int64 `json:"compileTime,omitempty"`
}

// ExecutionRecord is an ExecutionResult persisted in a room's history,
// together with what was submitted.
type ExecutionRecord struct {
	ExecutionResult
	RoomID    string    `json:"roomId"`
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
}
