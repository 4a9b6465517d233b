package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

// StopReason explique pourquoi un arrêt a été demandé.
// Seul StopExpired mène à "completed" ; tout le reste finit "aborted".
type StopReason string

const (
	StopNone     StopReason = ""
	StopExpired  StopReason = "expired"
	StopAborted  StopReason = "aborted"
	StopShutdown StopReason = "shutdown"
)

type RecordingPhase string

const (
	PhaseCreated       RecordingPhase = "created"
	PhaseRunning       RecordingPhase = "running"
	PhaseStopping      RecordingPhase = "stopping"
	PhaseExited        RecordingPhase = "exited"
	PhaseFailedToStart RecordingPhase = "failed-to-start"
)

// maxUniqueSuffix borne la recherche d'un nom libre (name_1.ts … name_999.ts).
const maxUniqueSuffix = 999

type RecordingOptions struct {
	// StopGrace est le délai entre SIGTERM et SIGKILL.
	StopGrace time.Duration
	LogLines  int
	Logger    zerolog.Logger
}

func DefaultRecordingOptions() RecordingOptions {
	return RecordingOptions{
		StopGrace: 10 * time.Second,
		LogLines:  200,
		Logger:    zerolog.Nop(),
	}
}

type RecordingSpec struct {
	EntryID     int64
	StationID   string
	URL         string
	DurationMin int
	OutputPath  string
}

// Progress est l'observation non bloquante d'un job.
type Progress struct {
	Runtime  time.Duration
	LastLine string
	Size     int64
}

type RecordingSnapshot struct {
	EntryID    int64          `json:"entryId"`
	RunID      string         `json:"runId"`
	StationID  string         `json:"stationId"`
	URL        string         `json:"url"`
	OutputPath string         `json:"outputPath"`
	PID        int            `json:"pid,omitempty"`
	Phase      RecordingPhase `json:"phase"`
	StopReason StopReason     `json:"stopReason,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	PlannedSec int64          `json:"plannedSeconds"`
	RuntimeSec int64          `json:"runtimeSeconds"`
	Size       int64          `json:"size"`
	LastLine   string         `json:"lastLine,omitempty"`
}

// RecordingJob supervise un processus de capture : un watchdog borne la durée,
// un drainer vide le flux de diagnostic puis récupère le code de sortie.
// Le flag "discarded" n'est écrit que par le Scheduler.
type RecordingJob struct {
	spec     RecordingSpec
	runID    xid.ID
	duration time.Duration
	runner   ports.CaptureRunner
	opts     RecordingOptions
	logger   zerolog.Logger

	mu         sync.Mutex
	phase      RecordingPhase
	proc       ports.CaptureProcess
	startedAt  time.Time
	endedAt    time.Time
	stopReason StopReason
	exitErr    error
	log        *lineBuffer
	killTimer  *time.Timer

	exited    chan struct{}
	group     *errgroup.Group
	discarded atomic.Bool
}

func NewRecordingJob(spec RecordingSpec, runner ports.CaptureRunner, opts RecordingOptions) (*RecordingJob, error) {
	if !domain.ValidStreamURL(spec.URL) {
		return nil, domain.Errorf(domain.CodeInvalidJobSpec, "url %q is not a network url", spec.URL)
	}
	if !domain.ValidDuration(spec.DurationMin) {
		return nil, domain.Errorf(domain.CodeInvalidJobSpec, "recording duration %d out of limits", spec.DurationMin)
	}
	if strings.TrimSpace(spec.OutputPath) == "" {
		return nil, domain.Errorf(domain.CodeInvalidJobSpec, "output path required")
	}
	if runner == nil {
		return nil, domain.Errorf(domain.CodeInvalidJobSpec, "capture runner required")
	}
	out, err := UniqueOutputPath(spec.OutputPath)
	if err != nil {
		return nil, domain.Wrap(domain.CodeInvalidJobSpec, err, "output path")
	}
	spec.OutputPath = out

	def := DefaultRecordingOptions()
	if opts.StopGrace <= 0 {
		opts.StopGrace = def.StopGrace
	}
	if opts.LogLines <= 0 {
		opts.LogLines = def.LogLines
	}

	runID := xid.New()
	return &RecordingJob{
		spec:     spec,
		runID:    runID,
		duration: time.Duration(spec.DurationMin) * time.Minute,
		runner:   runner,
		opts:     opts,
		logger: opts.Logger.With().
			Int64("entry_id", spec.EntryID).
			Str("run_id", runID.String()).
			Logger(),
		phase:  PhaseCreated,
		log:    newLineBuffer(opts.LogLines),
		exited: make(chan struct{}),
	}, nil
}

func (j *RecordingJob) EntryID() int64         { return j.spec.EntryID }
func (j *RecordingJob) StationID() string      { return j.spec.StationID }
func (j *RecordingJob) RunID() string          { return j.runID.String() }
func (j *RecordingJob) OutputPath() string     { return j.spec.OutputPath }
func (j *RecordingJob) Planned() time.Duration { return j.duration }

// Start lance la capture et rend la main immédiatement.
// Un échec de lancement passe le job en failed-to-start (jamais "running").
func (j *RecordingJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.phase != PhaseCreated {
		j.mu.Unlock()
		return fmt.Errorf("recording %d already started", j.spec.EntryID)
	}
	proc, err := j.runner.Start(ctx, ports.CaptureSpec{URL: j.spec.URL, OutputPath: j.spec.OutputPath})
	now := time.Now()
	if err != nil {
		j.phase = PhaseFailedToStart
		j.exitErr = err
		j.startedAt = now
		j.endedAt = now
		close(j.exited)
		j.mu.Unlock()
		j.logger.Error().Err(err).Msg("capture process failed to start")
		return domain.Wrap(domain.CodeSpawnFailure, err, "start capture")
	}
	j.proc = proc
	j.phase = PhaseRunning
	j.startedAt = now
	g := &errgroup.Group{}
	j.group = g
	j.mu.Unlock()

	j.logger.Info().
		Int("pid", proc.PID()).
		Str("url", j.spec.URL).
		Str("output", j.spec.OutputPath).
		Dur("planned", j.duration).
		Msg("recording started")

	g.Go(func() error {
		j.drain(proc)
		return nil
	})
	g.Go(func() error {
		j.watch(ctx)
		return nil
	})
	return nil
}

// watch est la seule autorité sur l'expiration.
func (j *RecordingJob) watch(ctx context.Context) {
	j.mu.Lock()
	remaining := j.duration - time.Since(j.startedAt)
	j.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
		j.RequestStop(StopExpired)
	case <-j.exited:
	case <-ctx.Done():
		j.RequestStop(StopShutdown)
	}
}

// drain lit le flux de diagnostic jusqu'à EOF, puis récupère la fin du processus.
func (j *RecordingJob) drain(proc ports.CaptureProcess) {
	r := proc.Diagnostics()
	if r != nil {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(scanDiagnosticLines)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			j.mu.Lock()
			j.log.Append(line)
			j.mu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			j.logger.Warn().Err(err).Msg("diagnostic stream read failed")
			_, _ = io.Copy(io.Discard, r)
		}
	}

	err := proc.Wait()

	j.mu.Lock()
	j.exitErr = err
	j.phase = PhaseExited
	j.endedAt = time.Now()
	if j.killTimer != nil {
		j.killTimer.Stop()
	}
	reason := j.stopReason
	runtime := j.endedAt.Sub(j.startedAt)
	close(j.exited)
	j.mu.Unlock()

	evt := j.logger.Info()
	if err != nil && reason == StopNone {
		evt = j.logger.Warn().Err(err)
	}
	evt.Str("stop_reason", string(reason)).Dur("runtime", runtime).Msg("capture process exited")
}

// scanDiagnosticLines découpe sur \n et \r : ffmpeg réécrit sa ligne de stats avec \r.
func scanDiagnosticLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// RequestStop est idempotent : seul le premier appel sur un processus vivant
// envoie SIGTERM et fixe la raison. SIGKILL suit après StopGrace.
func (j *RecordingJob) RequestStop(reason StopReason) {
	if reason == StopNone {
		reason = StopAborted
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.phase != PhaseRunning {
		return
	}
	j.phase = PhaseStopping
	j.stopReason = reason
	if err := j.proc.Terminate(); err != nil {
		j.logger.Warn().Err(err).Msg("terminate capture process failed")
	}
	j.killTimer = time.AfterFunc(j.opts.StopGrace, j.forceKill)
	j.logger.Info().Str("reason", string(reason)).Msg("recording stop requested")
}

func (j *RecordingJob) forceKill() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.phase != PhaseStopping {
		return
	}
	j.logger.Warn().Dur("grace", j.opts.StopGrace).Msg("capture process ignored terminate, killing")
	if err := j.proc.Kill(); err != nil {
		j.logger.Error().Err(err).Msg("kill capture process failed")
	}
}

// Join attend la fin du watchdog et du drainer. La sortie du processus est
// garantie par le plafond de la commande et le SIGKILL de secours.
func (j *RecordingJob) Join() {
	j.mu.Lock()
	g := j.group
	j.mu.Unlock()
	if g != nil {
		_ = g.Wait()
	}
}

// Done est fermé quand le processus est terminé (ou n'a jamais démarré).
func (j *RecordingJob) Done() <-chan struct{} { return j.exited }

func (j *RecordingJob) IsAlive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase == PhaseRunning || j.phase == PhaseStopping
}

// Expired indique que le job a atteint sa durée planifiée (arrêt par le watchdog).
func (j *RecordingJob) Expired() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopReason == StopExpired
}

func (j *RecordingJob) StopReason() StopReason {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopReason
}

func (j *RecordingJob) Phase() RecordingPhase {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase
}

// ExitErr renvoie l'erreur de sortie (ou de lancement) une fois le processus terminé.
func (j *RecordingJob) ExitErr() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exitErr
}

func (j *RecordingJob) Poll() Progress {
	j.mu.Lock()
	p := Progress{Runtime: j.runtimeLocked(), LastLine: j.log.Last()}
	j.mu.Unlock()
	p.Size = fileSize(j.spec.OutputPath)
	return p
}

func (j *RecordingJob) Log() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.log.Lines()
}

func (j *RecordingJob) Snapshot() RecordingSnapshot {
	j.mu.Lock()
	snap := RecordingSnapshot{
		EntryID:    j.spec.EntryID,
		RunID:      j.runID.String(),
		StationID:  j.spec.StationID,
		URL:        j.spec.URL,
		OutputPath: j.spec.OutputPath,
		Phase:      j.phase,
		StopReason: j.stopReason,
		StartedAt:  j.startedAt,
		PlannedSec: int64(j.duration / time.Second),
		RuntimeSec: int64(j.runtimeLocked() / time.Second),
		LastLine:   j.log.Last(),
	}
	if j.proc != nil {
		snap.PID = j.proc.PID()
	}
	j.mu.Unlock()
	snap.Size = fileSize(j.spec.OutputPath)
	return snap
}

func (j *RecordingJob) runtimeLocked() time.Duration {
	if j.startedAt.IsZero() {
		return 0
	}
	if !j.endedAt.IsZero() {
		return j.endedAt.Sub(j.startedAt)
	}
	return time.Since(j.startedAt)
}

// MarkDiscarded est réservé au Scheduler, une fois l'entrée réconciliée.
func (j *RecordingJob) MarkDiscarded()  { j.discarded.Store(true) }
func (j *RecordingJob) Discarded() bool { return j.discarded.Load() }

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// UniqueOutputPath renvoie path s'il est libre, sinon le premier "name_N.ext" libre.
func UniqueOutputPath(path string) (string, error) {
	free, err := pathFree(path)
	if err != nil || free {
		return path, err
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	for i := 1; i <= maxUniqueSuffix; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		free, err := pathFree(candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free file name for %s", path)
}

func pathFree(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	return false, err
}

// lineBuffer garde les n dernières lignes dans l'ordre d'arrivée.
type lineBuffer struct {
	max   int
	lines []string
}

func newLineBuffer(max int) *lineBuffer {
	return &lineBuffer{max: max, lines: make([]string, 0, max)}
}

func (b *lineBuffer) Append(line string) {
	if len(b.lines) == b.max {
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:len(b.lines)-1]
	}
	b.lines = append(b.lines, line)
}

func (b *lineBuffer) Last() string {
	if len(b.lines) == 0 {
		return ""
	}
	return b.lines[len(b.lines)-1]
}

func (b *lineBuffer) Lines() []string {
	return append([]string(nil), b.lines...)
}
