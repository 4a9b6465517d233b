package app

import (
	"errors"
	"fmt"

	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

var ErrNotFound = ports.ErrNotFound

// invalidf signale une requête rejetée par la validation des services.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ports.ErrInvalid, fmt.Sprintf(format, args...))
}

// IsInvalid indique une erreur de validation (→ 400 côté HTTP).
func IsInvalid(err error) bool {
	return errors.Is(err, ports.ErrInvalid)
}
