package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

// DefaultCeiling borne la capture côté ffmpeg (-t), indépendamment de la durée planifiée.
const DefaultCeiling = 24 * time.Hour

type Options struct {
	Binary string
	// ExtraArgs est une ligne de commande (quotée shell) insérée avant le fichier de sortie.
	ExtraArgs string
	Ceiling   time.Duration
}

// Runner lance ffmpeg en mode "stream copy" vers un fichier.
type Runner struct {
	binary  string
	extra   []string
	ceiling time.Duration
}

func New(opts Options) (*Runner, error) {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	extra, err := shellquote.Split(opts.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg extra args: %w", err)
	}
	ceiling := opts.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Runner{binary: binary, extra: extra, ceiling: ceiling}, nil
}

// Args construit la ligne ffmpeg : écrase la sortie, copie sans réencodage, plafond -t.
func (r *Runner) Args(spec ports.CaptureSpec) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", spec.URL,
		"-codec", "copy",
		"-t", formatCeiling(r.ceiling),
	}
	args = append(args, r.extra...)
	return append(args, spec.OutputPath)
}

func (r *Runner) Start(ctx context.Context, spec ports.CaptureSpec) (ports.CaptureProcess, error) {
	if spec.URL == "" || spec.OutputPath == "" {
		return nil, errors.New("capture spec requires url and output path")
	}
	if dir := filepath.Dir(spec.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create recording directory: %w", err)
		}
	}
	return startCommand(exec.Command(r.binary, r.Args(spec)...))
}

// formatCeiling produit HH:MM:SS (heures non bornées à 24).
func formatCeiling(d time.Duration) string {
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

type process struct {
	cmd    *exec.Cmd
	stderr io.ReadCloser
}

// startCommand démarre cmd en exposant stderr ; stdin/stdout sont fermés.
func startCommand(cmd *exec.Cmd) (*process, error) {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &process{cmd: cmd, stderr: stderr}, nil
}

func (p *process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) Diagnostics() io.Reader { return p.stderr }

func (p *process) Wait() error { return p.cmd.Wait() }

func (p *process) Terminate() error {
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *process) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
