package ports

import (
	"context"
	"io"
)

type CaptureSpec struct {
	URL        string
	OutputPath string
}

// CaptureRunner lance le processus de capture externe.
// Start ne bloque pas au-delà du fork ; une erreur signifie que rien ne tourne.
type CaptureRunner interface {
	Start(ctx context.Context, spec CaptureSpec) (CaptureProcess, error)
}

// CaptureProcess est opaque : seuls son flux de diagnostic, sa fin et les
// signaux d'arrêt sont observables.
type CaptureProcess interface {
	PID() int
	// Diagnostics est lu jusqu'à EOF avant d'appeler Wait.
	Diagnostics() io.Reader
	Wait() error
	// Terminate demande un arrêt propre (SIGTERM).
	Terminate() error
	Kill() error
}
