package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

type ScheduleService struct {
	repo     ports.ScheduleRepository
	stations ports.StationRepository
	bus      ports.EventBus
}

func NewScheduleService(repo ports.ScheduleRepository, stations ports.StationRepository, bus ports.EventBus) *ScheduleService {
	return &ScheduleService{repo: repo, stations: stations, bus: bus}
}

type EntryDTO struct {
	ID          int64  `json:"id"`
	StationID   string `json:"stationId"`
	StationName string `json:"stationName,omitempty"`

	StartTime   time.Time `json:"startTime"`
	DurationMin int       `json:"durationMin"`
	RepeatRule  string    `json:"repeatRule,omitempty"`

	OutputPath   string        `json:"outputPath"`
	ObservedSize int64         `json:"observedSize"`
	Status       domain.Status `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toEntryDTO(e domain.Entry) EntryDTO {
	return EntryDTO{
		ID:           e.ID,
		StationID:    e.StationID,
		StationName:  e.StationName,
		StartTime:    e.StartTime,
		DurationMin:  e.DurationMin,
		RepeatRule:   e.RepeatRule,
		OutputPath:   e.OutputPath,
		ObservedSize: e.ObservedSize,
		Status:       e.Status,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

type EnqueueRequest struct {
	StationID   string    `json:"stationId"`
	StartTime   time.Time `json:"startTime"`
	DurationMin int       `json:"durationMin"`
	RepeatRule  string    `json:"repeatRule,omitempty"`
	OutputPath  string    `json:"outputPath,omitempty"`
}

// ParseRepeatRule accepte une expression cron à 5 champs ou un descripteur (@daily, @every 1h…).
func ParseRepeatRule(rule string) (cron.Schedule, error) {
	return cron.ParseStandard(strings.TrimSpace(rule))
}

// Enqueue planifie une capture ; une entrée "pending" de même (station, start) est mise à jour.
func (s *ScheduleService) Enqueue(ctx context.Context, req EnqueueRequest) (EntryDTO, error) {
	req.StationID = strings.TrimSpace(req.StationID)
	req.RepeatRule = strings.TrimSpace(req.RepeatRule)
	if req.StationID == "" {
		return EntryDTO{}, invalidf("missing stationId")
	}
	if req.StartTime.IsZero() {
		return EntryDTO{}, invalidf("missing startTime")
	}
	if !domain.ValidDuration(req.DurationMin) {
		return EntryDTO{}, invalidf("durationMin must be in [0, %d)", domain.MaxDurationMin)
	}
	if req.RepeatRule != "" {
		if _, err := ParseRepeatRule(req.RepeatRule); err != nil {
			return EntryDTO{}, invalidf("repeatRule: %v", err)
		}
	}
	if _, err := s.stations.Get(ctx, req.StationID); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return EntryDTO{}, invalidf("unknown station %q", req.StationID)
		}
		return EntryDTO{}, err
	}

	start := req.StartTime.UTC().Truncate(time.Second)
	entry, err := s.repo.Enqueue(ctx, domain.Entry{
		StationID:   req.StationID,
		StartTime:   start,
		DurationMin: req.DurationMin,
		RepeatRule:  req.RepeatRule,
		OutputPath:  OutputName(req.OutputPath, req.StationID, start),
	})
	if err != nil {
		return EntryDTO{}, err
	}
	dto := toEntryDTO(entry)
	publishJSON(s.bus, "schedule.enqueued", dto)
	return dto, nil
}

// OutputName nettoie le nom demandé ou dérive le nom par défaut ; l'extension .ts est ajoutée si absente.
func OutputName(requested, stationID string, start time.Time) string {
	name := domain.SanitizeFileName(requested)
	if name == "" {
		return domain.DefaultOutputName(stationID, start)
	}
	if filepath.Ext(name) == "" {
		name += ".ts"
	}
	return name
}

func (s *ScheduleService) Get(ctx context.Context, id int64) (EntryDTO, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return EntryDTO{}, err
	}
	return toEntryDTO(e), nil
}

func (s *ScheduleService) List(ctx context.Context, statuses ...domain.Status) ([]EntryDTO, error) {
	entries, err := s.repo.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	out := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e))
	}
	return out, nil
}

// Delete refuse les entrées actives ou terminées avec succès (AlreadyActiveOrTerminal).
func (s *ScheduleService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	publishJSON(s.bus, "schedule.deleted", map[string]int64{"id": id})
	return nil
}
