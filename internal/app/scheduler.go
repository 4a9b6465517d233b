package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

const (
	TopicRecordingStarted   = "recording.started"
	TopicRecordingCompleted = "recording.completed"
	TopicRecordingAborted   = "recording.aborted"
)

type SchedulerOptions struct {
	TickInterval time.Duration
	// IdleBackoff remplace TickInterval quand rien n'est planifié.
	IdleBackoff     time.Duration
	RecordingDir    string
	StopGrace       time.Duration
	ShutdownTimeout time.Duration
	LogLines        int
	// MinFreeBytes > 0 active l'avertissement d'espace disque à l'activation.
	MinFreeBytes uint64
	Now          func() time.Time
}

func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		TickInterval:    5 * time.Second,
		IdleBackoff:     15 * time.Second,
		RecordingDir:    "recordings",
		StopGrace:       10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		LogLines:        200,
		Now:             time.Now,
	}
}

// TickResult résume un tick : Activated/Aborted portent l'id de l'entrée traitée.
type TickResult struct {
	Activated int64
	Aborted   int64
	Idle      bool
}

// RecordingEvent est le payload des topics recording.*.
type RecordingEvent struct {
	EntryID    int64         `json:"entryId"`
	RunID      string        `json:"runId,omitempty"`
	StationID  string        `json:"stationId"`
	Status     domain.Status `json:"status"`
	OutputPath string        `json:"outputPath"`
	Size       int64         `json:"size"`
	RuntimeSec int64         `json:"runtimeSeconds"`
	StopReason StopReason    `json:"stopReason,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Scheduler est l'unique propriétaire de l'ensemble des jobs suivis.
// Chaque tick publie une nouvelle tranche ; les lecteurs ne voient jamais
// une tranche en cours de modification.
type Scheduler struct {
	logger zerolog.Logger
	store  ports.ScheduleStore
	runner ports.CaptureRunner
	bus    ports.EventBus
	opts   SchedulerOptions

	// FreeSpace est remplaçable en test.
	FreeSpace func(path string) (uint64, error)

	tickMu  sync.Mutex
	running atomic.Bool
	tracked atomic.Pointer[[]*RecordingJob]
}

func NewScheduler(logger zerolog.Logger, store ports.ScheduleStore, runner ports.CaptureRunner, bus ports.EventBus, opts SchedulerOptions) *Scheduler {
	def := DefaultSchedulerOptions()
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = def.IdleBackoff
	}
	if opts.RecordingDir == "" {
		opts.RecordingDir = def.RecordingDir
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = def.StopGrace
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = def.ShutdownTimeout
	}
	if opts.LogLines <= 0 {
		opts.LogLines = def.LogLines
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	s := &Scheduler{
		logger:    logger,
		store:     store,
		runner:    runner,
		bus:       bus,
		opts:      opts,
		FreeSpace: FreeSpace,
	}
	empty := []*RecordingJob{}
	s.tracked.Store(&empty)
	return s
}

// Run boucle jusqu'à l'annulation de ctx, puis arrête proprement les captures.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}
	defer s.running.Store(false)

	s.logger.Info().
		Dur("tick", s.opts.TickInterval).
		Str("recording_dir", s.opts.RecordingDir).
		Msg("scheduler started")

	recovered := false
	for {
		if !recovered {
			recovered = s.RecoverStale(ctx) == nil
		}
		res := s.Tick(ctx)
		wait := s.opts.TickInterval
		if res.Idle {
			wait = s.opts.IdleBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout+5*time.Second)
			s.Shutdown(shutdownCtx)
			cancel()
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Tick réconcilie les jobs suivis puis active au plus une entrée.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.reconcile(ctx)
	if ctx.Err() != nil {
		return TickResult{}
	}
	return s.activate(ctx)
}

// RecoverStale passe en "aborted" les entrées "active" sans job suivi :
// capture perdue (crash, SIGKILL, arrêt au-delà de ShutdownTimeout).
// La taille du fichier présent est conservée.
func (s *Scheduler) RecoverStale(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	active, err := s.store.ActiveEntries(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("stale entries lookup failed")
		return err
	}
	tracked := map[int64]bool{}
	for _, j := range s.jobs() {
		if !j.Discarded() {
			tracked[j.EntryID()] = true
		}
	}

	for _, entry := range active {
		if tracked[entry.ID] {
			continue
		}
		log := s.logger.With().Int64("entry_id", entry.ID).Str("station_id", entry.StationID).Logger()
		var size int64
		if domain.ValidFileName(entry.OutputPath) {
			size = fileSize(filepath.Join(s.opts.RecordingDir, entry.OutputPath))
		}
		if err := s.store.UpdateObservedSize(ctx, entry.ID, size); err != nil {
			if errors.Is(err, domain.ErrStorageUnavailable) {
				return err
			}
			log.Warn().Err(err).Msg("stale size not persisted")
		}
		if err := s.store.Abort(ctx, entry.ID); err != nil {
			if errors.Is(err, domain.ErrStorageUnavailable) {
				return err
			}
			log.Warn().Err(err).Msg("stale entry not aborted")
			continue
		}
		log.Warn().Str("size", humanize.Bytes(uint64(size))).Msg("stale active entry aborted")
		s.emit(TopicRecordingAborted, RecordingEvent{
			EntryID:    entry.ID,
			StationID:  entry.StationID,
			Status:     domain.StatusAborted,
			OutputPath: entry.OutputPath,
			Size:       size,
			Error:      "capture lost: no live process for active entry",
		})
	}
	return nil
}

func (s *Scheduler) jobs() []*RecordingJob {
	return *s.tracked.Load()
}

func (s *Scheduler) publish(jobs []*RecordingJob) {
	s.tracked.Store(&jobs)
}

// Recordings renvoie les jobs encore suivis (vivants ou en attente de réconciliation).
func (s *Scheduler) Recordings() []RecordingSnapshot {
	jobs := s.jobs()
	out := make([]RecordingSnapshot, 0, len(jobs))
	for _, j := range jobs {
		if j.Discarded() {
			continue
		}
		out = append(out, j.Snapshot())
	}
	return out
}

func (s *Scheduler) reconcile(ctx context.Context) {
	current := s.jobs()
	survivors := make([]*RecordingJob, 0, len(current))

	for i, job := range current {
		if job.Discarded() {
			continue
		}
		if job.IsAlive() {
			size := job.Poll().Size
			if err := s.store.UpdateObservedSize(ctx, job.EntryID(), size); err != nil {
				s.logger.Debug().Err(err).Int64("entry_id", job.EntryID()).Msg("update observed size failed")
			}
			survivors = append(survivors, job)
			continue
		}
		if err := s.finalize(ctx, job); err != nil {
			s.logger.Warn().Err(err).Int64("entry_id", job.EntryID()).Msg("schedule store unavailable, reconciliation postponed")
			survivors = append(survivors, current[i:]...)
			break
		}
	}

	s.publish(survivors)
}

// finalize persiste la taille finale puis l'état terminal d'un job mort.
// Seule StorageUnavailable est renvoyée : le job reste suivi pour le tick suivant.
func (s *Scheduler) finalize(ctx context.Context, job *RecordingJob) error {
	job.Join()
	progress := job.Poll()
	id := job.EntryID()
	log := s.logger.With().Int64("entry_id", id).Str("run_id", job.RunID()).Logger()

	if err := s.store.UpdateObservedSize(ctx, id, progress.Size); err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			return err
		}
		log.Warn().Err(err).Msg("final size not persisted")
	}

	status := domain.StatusAborted
	var err error
	if job.Expired() {
		status = domain.StatusCompleted
		err = s.store.Complete(ctx, id)
	} else {
		err = s.store.Abort(ctx, id)
	}
	if err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			return err
		}
		log.Warn().Err(err).Str("status", string(status)).Msg("terminal transition refused")
	}

	job.MarkDiscarded()

	evt := RecordingEvent{
		EntryID:    id,
		RunID:      job.RunID(),
		StationID:  job.StationID(),
		Status:     status,
		OutputPath: job.OutputPath(),
		Size:       progress.Size,
		RuntimeSec: int64(progress.Runtime / time.Second),
		StopReason: job.StopReason(),
	}
	if exitErr := job.ExitErr(); exitErr != nil && status == domain.StatusAborted {
		evt.Error = exitErr.Error()
	}
	topic := TopicRecordingAborted
	if status == domain.StatusCompleted {
		topic = TopicRecordingCompleted
	}
	s.emit(topic, evt)

	log.Info().
		Str("status", string(status)).
		Str("size", humanize.Bytes(uint64(progress.Size))).
		Dur("runtime", progress.Runtime).
		Msg("recording finished")
	return nil
}

func (s *Scheduler) activate(ctx context.Context) TickResult {
	due, err := s.store.NextDueEntry(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNothingScheduled) {
			s.logger.Debug().Msg("nothing scheduled")
			return TickResult{Idle: true}
		}
		s.logger.Error().Err(err).Msg("next due entry lookup failed")
		return TickResult{}
	}

	entry, err := s.store.GetEntry(ctx, due.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrEntryNotFound) {
			s.logger.Error().Err(err).Int64("entry_id", due.ID).Msg("entry lookup failed")
		}
		return TickResult{}
	}
	if entry.Status != domain.StatusPending || !entry.Due(s.opts.Now()) {
		return TickResult{}
	}

	log := s.logger.With().Int64("entry_id", entry.ID).Str("station_id", entry.StationID).Logger()

	output, err := s.resolveOutput(ctx, entry)
	if err != nil {
		s.abortEntry(ctx, entry, "", err)
		return TickResult{Aborted: entry.ID}
	}

	if err := s.store.Activate(ctx, entry.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadyActiveOrTerminal) || errors.Is(err, domain.ErrEntryNotFound) {
			log.Debug().Err(err).Msg("entry no longer pending")
		} else {
			log.Error().Err(err).Msg("activate entry failed")
		}
		return TickResult{}
	}

	s.checkDiskSpace(log)

	job, err := NewRecordingJob(RecordingSpec{
		EntryID:     entry.ID,
		StationID:   entry.StationID,
		URL:         entry.StationURL,
		DurationMin: entry.DurationMin,
		OutputPath:  output,
	}, s.runner, RecordingOptions{
		StopGrace: s.opts.StopGrace,
		LogLines:  s.opts.LogLines,
		Logger:    s.logger.With().Str("component", "recording").Logger(),
	})
	if err != nil {
		s.abortEntry(ctx, entry, output, err)
		return TickResult{Aborted: entry.ID}
	}
	if err := job.Start(ctx); err != nil {
		s.abortEntry(ctx, entry, output, err)
		return TickResult{Aborted: entry.ID}
	}

	// Tick est sérialisé : personne d'autre ne publie entre la lecture et l'écriture.
	current := s.jobs()
	updated := make([]*RecordingJob, 0, len(current)+1)
	updated = append(updated, current...)
	updated = append(updated, job)
	s.publish(updated)

	s.emit(TopicRecordingStarted, RecordingEvent{
		EntryID:    entry.ID,
		RunID:      job.RunID(),
		StationID:  entry.StationID,
		Status:     domain.StatusActive,
		OutputPath: job.OutputPath(),
	})
	log.Info().
		Str("run_id", job.RunID()).
		Int("duration_min", entry.DurationMin).
		Str("output", job.OutputPath()).
		Msg("entry activated")
	return TickResult{Activated: entry.ID}
}

// resolveOutput choisit un chemin libre dans RecordingDir et le persiste
// si un suffixe a été ajouté.
func (s *Scheduler) resolveOutput(ctx context.Context, entry domain.Entry) (string, error) {
	name := entry.OutputPath
	if name == "" {
		name = domain.DefaultOutputName(entry.StationID, entry.StartTime)
	}
	if !domain.ValidFileName(name) {
		return "", domain.Errorf(domain.CodeInvalidJobSpec, "output name %q is not a plain file name", name)
	}
	wanted := filepath.Join(s.opts.RecordingDir, name)
	output, err := UniqueOutputPath(wanted)
	if err != nil {
		return "", domain.Wrap(domain.CodeInvalidJobSpec, err, "output path")
	}
	rel, err := filepath.Rel(s.opts.RecordingDir, output)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.Errorf(domain.CodeInvalidJobSpec, "output %q is outside the recording dir", output)
	}
	if output != wanted || entry.OutputPath == "" {
		if err := s.store.UpdateOutputPath(ctx, entry.ID, rel); err != nil {
			s.logger.Warn().Err(err).Int64("entry_id", entry.ID).Msg("output path not persisted")
		}
	}
	return output, nil
}

// abortEntry marque l'entrée "aborted" avec une taille nulle après un échec d'activation.
func (s *Scheduler) abortEntry(ctx context.Context, entry domain.Entry, output string, cause error) {
	log := s.logger.With().Int64("entry_id", entry.ID).Logger()
	log.Error().Err(cause).Str("code", string(domain.CodeOf(cause))).Msg("recording activation failed")

	if err := s.store.UpdateObservedSize(ctx, entry.ID, 0); err != nil {
		log.Warn().Err(err).Msg("reset observed size failed")
	}
	if err := s.store.Abort(ctx, entry.ID); err != nil {
		log.Warn().Err(err).Msg("abort entry failed")
	}
	s.emit(TopicRecordingAborted, RecordingEvent{
		EntryID:    entry.ID,
		StationID:  entry.StationID,
		Status:     domain.StatusAborted,
		OutputPath: output,
		Error:      cause.Error(),
	})
}

func (s *Scheduler) checkDiskSpace(log zerolog.Logger) {
	if s.opts.MinFreeBytes == 0 || s.FreeSpace == nil {
		return
	}
	free, err := s.FreeSpace(s.opts.RecordingDir)
	if err != nil {
		log.Debug().Err(err).Msg("free space check failed")
		return
	}
	if free < s.opts.MinFreeBytes {
		log.Warn().
			Str("free", humanize.Bytes(free)).
			Str("min_free", humanize.Bytes(s.opts.MinFreeBytes)).
			Msg("low disk space in recording dir")
	}
}

func (s *Scheduler) emit(topic string, evt RecordingEvent) {
	publishJSON(s.bus, topic, evt)
}

// Shutdown arrête toutes les captures, attend leur fin (borné par
// ShutdownTimeout) puis réconcilie une dernière fois.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	jobs := s.jobs()
	for _, j := range jobs {
		j.RequestStop(StopShutdown)
	}

	done := make(chan struct{})
	go func() {
		for _, j := range jobs {
			j.Join()
		}
		close(done)
	}()

	timer := time.NewTimer(s.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn().Dur("timeout", s.opts.ShutdownTimeout).Msg("recordings still running after shutdown timeout")
	case <-ctx.Done():
		s.logger.Warn().Err(ctx.Err()).Msg("shutdown interrupted")
	}

	s.reconcile(ctx)
	s.logger.Info().Int("stopped", len(jobs)).Msg("recordings stopped")
}
