package transactions

import (
	"errors"
	"fmt"
)

// Code identifies an execution error. The numeric values are part of the
// wire format reported to clients.
type Code uint8

const (
	CodeCandidateAlreadyExists  Code = 0
	CodeVoterAlreadyExists      Code = 1
	CodeVoteAlreadyExists       Code = 2
	CodeCandidateNotFound       Code = 3
	CodeCandidateResultNotFound Code = 4
	CodeVoterNotFound           Code = 5
	CodeInvalidEphemeral        Code = 6
)

// ExecutionError is a rejection recorded against an operation. The operation's
// writes are discarded.
type ExecutionError struct {
	Code        Code   `json:"code"`
	Description string `json:"description"`
}

func (e *ExecutionError) Error() string {
	return e.Description
}

// Is matches any ExecutionError with the same code.
func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Fatal reports whether the error signals a broken store or service rather
// than a bad request.
func (e *ExecutionError) Fatal() bool {
	return e.Code == CodeCandidateResultNotFound || e.Code == CodeInvalidEphemeral
}

var (
	ErrCandidateAlreadyExists  = &ExecutionError{Code: CodeCandidateAlreadyExists, Description: "Candidate already exists"}
	ErrVoterAlreadyExists      = &ExecutionError{Code: CodeVoterAlreadyExists, Description: "Voter already exists"}
	ErrVoteAlreadyExists       = &ExecutionError{Code: CodeVoteAlreadyExists, Description: "Vote already exists"}
	ErrCandidateNotFound       = &ExecutionError{Code: CodeCandidateNotFound, Description: "Candidate not found"}
	ErrCandidateResultNotFound = &ExecutionError{Code: CodeCandidateResultNotFound, Description: "Candidate result not found"}
	ErrVoterNotFound           = &ExecutionError{Code: CodeVoterNotFound, Description: "Voter not found"}
	ErrInvalidEphemeral        = &ExecutionError{Code: CodeInvalidEphemeral, Description: "Invalid ephemeral"}
)

// ErrInvalidSignature rejects an operation before execution.
var ErrInvalidSignature = errors.New("invalid operation signature")

func invalidEphemeral(err error) error {
	return &ExecutionError{
		Code:        CodeInvalidEphemeral,
		Description: fmt.Sprintf("%s: %v", ErrInvalidEphemeral.Description, err),
	}
}

// AsExecutionError extracts the execution error from err, if any.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var e *ExecutionError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsInvariantViolation reports whether err means stored state is inconsistent.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrCandidateResultNotFound)
}
