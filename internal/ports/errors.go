package ports

import "errors"

var ErrNotFound = errors.New("not found")

var ErrConflict = errors.New("conflict")

// ErrInvalid signale une requête rejetée par la validation (→ 400).
var ErrInvalid = errors.New("invalid request")
