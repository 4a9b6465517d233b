package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

var (
	errTerminated = errors.New("signal: terminated")
	errKilled     = errors.New("signal: killed")
)

// fakeProcess simule ffmpeg : un pipe de diagnostic et une fin pilotée par le test.
type fakeProcess struct {
	spec ports.CaptureSpec
	pr   *io.PipeReader
	pw   *io.PipeWriter

	mu         sync.Mutex
	ignoreTerm bool
	terminated int
	killed     int

	done chan struct{}
	once sync.Once
	err  error
}

func newFakeProcess(spec ports.CaptureSpec, ignoreTerm bool) *fakeProcess {
	pr, pw := io.Pipe()
	return &fakeProcess{spec: spec, pr: pr, pw: pw, ignoreTerm: ignoreTerm, done: make(chan struct{})}
}

func (p *fakeProcess) PID() int               { return 4242 }
func (p *fakeProcess) Diagnostics() io.Reader { return p.pr }

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated++
	ignore := p.ignoreTerm
	p.mu.Unlock()
	if !ignore {
		p.exit(errTerminated)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	p.exit(errKilled)
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		_ = p.pw.Close()
		close(p.done)
	})
}

func (p *fakeProcess) emit(line string) {
	_, _ = fmt.Fprint(p.pw, line+"\n")
}

func (p *fakeProcess) signals() (terminated, killed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

type fakeRunner struct {
	mu         sync.Mutex
	startErr   error
	ignoreTerm bool
	// writeBytes > 0 crée le fichier de sortie au lancement.
	writeBytes int
	procs      []*fakeProcess
}

func (r *fakeRunner) Start(ctx context.Context, spec ports.CaptureSpec) (ports.CaptureProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	if r.writeBytes > 0 {
		if err := os.WriteFile(spec.OutputPath, make([]byte, r.writeBytes), 0o644); err != nil {
			return nil, err
		}
	}
	p := newFakeProcess(spec, r.ignoreTerm)
	r.procs = append(r.procs, p)
	return p, nil
}

func (r *fakeRunner) started() []*fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeProcess(nil), r.procs...)
}

func (r *fakeRunner) last() *fakeProcess {
	procs := r.started()
	if len(procs) == 0 {
		return nil
	}
	return procs[len(procs)-1]
}

// memStore implémente ports.ScheduleRepository en mémoire.
// getErr/activateErr forcent l'échec de GetEntry/Activate.
type memStore struct {
	mu          sync.Mutex
	entries     map[int64]domain.Entry
	nextID      int64
	unavailable bool
	getErr      error
	activateErr error
	nextCalls   int
}

var (
	_ ports.ScheduleRepository = (*memStore)(nil)
	_ ports.StationRepository  = (*memStations)(nil)
)

func newMemStore() *memStore {
	return &memStore{entries: map[int64]domain.Entry{}}
}

func (s *memStore) add(e domain.Entry) domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.Status == "" {
		e.Status = domain.StatusPending
	}
	s.entries[e.ID] = e
	return e
}

func (s *memStore) entry(id int64) domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id]
}

func (s *memStore) setUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

func (s *memStore) down() error {
	if s.unavailable {
		return domain.Wrap(domain.CodeStorageUnavailable, errors.New("database is locked"), "schedule store")
	}
	return nil
}

func (s *memStore) sorted() []domain.Entry {
	out := make([]domain.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memStore) failGetEntry(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

func (s *memStore) failActivate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activateErr = err
}

func (s *memStore) nextDueCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCalls
}

func (s *memStore) NextDueEntry(ctx context.Context) (domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCalls++
	if err := s.down(); err != nil {
		return domain.Entry{}, err
	}
	for _, e := range s.sorted() {
		if e.Status == domain.StatusPending {
			return e, nil
		}
	}
	return domain.Entry{}, domain.ErrNothingScheduled
}

func (s *memStore) GetEntry(ctx context.Context, id int64) (domain.Entry, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return domain.Entry{}, err
	}
	return s.Get(ctx, id)
}

func (s *memStore) Get(ctx context.Context, id int64) (domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down(); err != nil {
		return domain.Entry{}, err
	}
	e, ok := s.entries[id]
	if !ok {
		return domain.Entry{}, domain.ErrEntryNotFound
	}
	return e, nil
}

func (s *memStore) update(id int64, allowed []domain.Status, fn func(*domain.Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down(); err != nil {
		return err
	}
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrEntryNotFound
	}
	for _, st := range allowed {
		if e.Status == st {
			fn(&e)
			e.UpdatedAt = time.Now()
			s.entries[id] = e
			return nil
		}
	}
	return domain.ErrAlreadyActiveOrTerminal
}

func (s *memStore) transition(id int64, next domain.Status) error {
	allowed := []domain.Status{}
	for _, st := range []domain.Status{domain.StatusPending, domain.StatusActive} {
		if domain.CanTransition(st, next) {
			allowed = append(allowed, st)
		}
	}
	return s.update(id, allowed, func(e *domain.Entry) { e.Status = next })
}

func (s *memStore) Activate(ctx context.Context, id int64) error {
	s.mu.Lock()
	err := s.activateErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.transition(id, domain.StatusActive)
}

func (s *memStore) Complete(ctx context.Context, id int64) error {
	return s.transition(id, domain.StatusCompleted)
}

func (s *memStore) Abort(ctx context.Context, id int64) error {
	return s.transition(id, domain.StatusAborted)
}

func (s *memStore) UpdateObservedSize(ctx context.Context, id int64, bytes int64) error {
	return s.update(id, []domain.Status{domain.StatusPending, domain.StatusActive}, func(e *domain.Entry) {
		e.ObservedSize = bytes
	})
}

func (s *memStore) UpdateOutputPath(ctx context.Context, id int64, path string) error {
	return s.update(id, []domain.Status{domain.StatusPending}, func(e *domain.Entry) {
		e.OutputPath = path
	})
}

func (s *memStore) ActiveEntries(ctx context.Context) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down(); err != nil {
		return nil, err
	}
	out := []domain.Entry{}
	for _, e := range s.sorted() {
		if e.Status == domain.StatusActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) Enqueue(ctx context.Context, entry domain.Entry) (domain.Entry, error) {
	s.mu.Lock()
	for id, e := range s.entries {
		if e.Status == domain.StatusPending && e.StationID == entry.StationID && e.StartTime.Equal(entry.StartTime) {
			e.DurationMin = entry.DurationMin
			e.RepeatRule = entry.RepeatRule
			e.OutputPath = entry.OutputPath
			s.entries[id] = e
			s.mu.Unlock()
			return e, nil
		}
	}
	s.mu.Unlock()
	entry.Status = domain.StatusPending
	return s.add(entry), nil
}

func (s *memStore) List(ctx context.Context, statuses ...domain.Status) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Entry{}
	for _, e := range s.sorted() {
		if len(statuses) == 0 {
			out = append(out, e)
			continue
		}
		for _, st := range statuses {
			if e.Status == st {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrEntryNotFound
	}
	if e.Status == domain.StatusActive || e.Status == domain.StatusCompleted {
		return domain.ErrAlreadyActiveOrTerminal
	}
	delete(s.entries, id)
	return nil
}

type memStations struct {
	mu   sync.Mutex
	byID map[string]domain.Station
}

func newMemStations(stations ...domain.Station) *memStations {
	r := &memStations{byID: map[string]domain.Station{}}
	for _, st := range stations {
		r.byID[st.ID] = st
	}
	return r
}

func (r *memStations) Put(ctx context.Context, st domain.Station) (domain.Station, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byID[st.ID]; ok {
		st.CreatedAt = prev.CreatedAt
	}
	r.byID[st.ID] = st
	return st, nil
}

func (r *memStations) Get(ctx context.Context, id string) (domain.Station, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byID[id]
	if !ok {
		return domain.Station{}, ports.ErrNotFound
	}
	return st, nil
}

func (r *memStations) List(ctx context.Context) ([]domain.Station, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Station, 0, len(r.byID))
	for _, st := range r.byID {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memStations) Delete(ctx context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ports.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}
