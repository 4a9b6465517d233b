package app

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning signale qu'une autre instance tient déjà le verrou.
var ErrAlreadyRunning = errors.New("another streamrec instance is running")

// AcquireInstanceLock garantit une seule boucle de planification par base.
// L'appelant libère le verrou avec Unlock.
func AcquireInstanceLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
	}
	return lock, nil
}
