package domain

import (
	"errors"
	"fmt"
)

// ErrorCode identifie une catégorie d'erreur stable du cœur (scheduler + jobs).
// L'ensemble est fermé : tout nouveau code doit être traité par le scheduler.
type ErrorCode string

const (
	CodeInvalidJobSpec          ErrorCode = "invalid_job_spec"
	CodeSpawnFailure            ErrorCode = "spawn_failure"
	CodeNothingScheduled        ErrorCode = "nothing_scheduled"
	CodeEntryNotFound           ErrorCode = "entry_not_found"
	CodeAlreadyActiveOrTerminal ErrorCode = "already_active_or_terminal"
	CodeStorageUnavailable      ErrorCode = "storage_unavailable"
)

// Error porte un code stable, un message lisible et la cause éventuelle.
// errors.Is compare uniquement les codes.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidJobSpec          = &Error{Code: CodeInvalidJobSpec, Message: "invalid job spec"}
	ErrSpawnFailure            = &Error{Code: CodeSpawnFailure, Message: "capture process failed to start"}
	ErrNothingScheduled        = &Error{Code: CodeNothingScheduled, Message: "nothing scheduled"}
	ErrEntryNotFound           = &Error{Code: CodeEntryNotFound, Message: "schedule entry not found"}
	ErrAlreadyActiveOrTerminal = &Error{Code: CodeAlreadyActiveOrTerminal, Message: "schedule entry already active or terminal"}
	ErrStorageUnavailable      = &Error{Code: CodeStorageUnavailable, Message: "schedule store unavailable"}
)

// Errorf construit une erreur codée avec un message formaté.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap associe un code à une cause existante.
func Wrap(code ErrorCode, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf renvoie le code de la première domain.Error de la chaîne, ou "".
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
