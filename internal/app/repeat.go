package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

// RepeatPlanner replanifie l'occurrence suivante d'une entrée à règle de
// répétition dès que sa capture se termine (completed ou aborted).
type RepeatPlanner struct {
	logger zerolog.Logger
	bus    ports.EventBus
	repo   ports.ScheduleRepository

	// Location sert à évaluer les règles cron (heure locale par défaut).
	Location *time.Location
	Now      func() time.Time
}

func NewRepeatPlanner(logger zerolog.Logger, bus ports.EventBus, repo ports.ScheduleRepository) *RepeatPlanner {
	return &RepeatPlanner{logger: logger, bus: bus, repo: repo, Location: time.Local, Now: time.Now}
}

func (p *RepeatPlanner) Run(ctx context.Context) {
	if p == nil || p.bus == nil || p.repo == nil {
		return
	}
	ch, cancel := p.bus.Subscribe(TopicRecordingCompleted, TopicRecordingAborted)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("repeat planner stopped")
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			p.handleEvent(ctx, evt)
		}
	}
}

func (p *RepeatPlanner) handleEvent(ctx context.Context, evt ports.Event) {
	if evt.Topic != TopicRecordingCompleted && evt.Topic != TopicRecordingAborted {
		return
	}
	var rec RecordingEvent
	if err := json.Unmarshal(evt.Payload, &rec); err != nil || rec.EntryID == 0 {
		return
	}

	entry, err := p.repo.Get(ctx, rec.EntryID)
	if err != nil {
		p.logger.Warn().Err(err).Int64("entry_id", rec.EntryID).Msg("repeat lookup failed")
		return
	}
	if entry.RepeatRule == "" {
		return
	}

	next, err := p.NextOccurrence(entry)
	if err != nil {
		p.logger.Warn().Err(err).Int64("entry_id", entry.ID).Str("rule", entry.RepeatRule).Msg("invalid repeat rule")
		return
	}

	// un nom dérivé (même suffixé "_N") est recalculé pour la nouvelle date
	name := entry.OutputPath
	if name == "" || domain.IsDerivedOutputName(name, entry.StationID, entry.StartTime) {
		name = domain.DefaultOutputName(entry.StationID, next)
	}
	created, err := p.repo.Enqueue(ctx, domain.Entry{
		StationID:   entry.StationID,
		StartTime:   next,
		DurationMin: entry.DurationMin,
		RepeatRule:  entry.RepeatRule,
		OutputPath:  name,
	})
	if err != nil {
		p.logger.Warn().Err(err).Int64("entry_id", entry.ID).Msg("repeat enqueue failed")
		return
	}

	p.logger.Info().
		Int64("entry_id", entry.ID).
		Int64("next_entry_id", created.ID).
		Time("next_start", next).
		Msg("repeat scheduled")
	publishJSON(p.bus, "schedule.enqueued", toEntryDTO(created))
}

// NextOccurrence renvoie la première occurrence strictement après max(start, now).
func (p *RepeatPlanner) NextOccurrence(entry domain.Entry) (time.Time, error) {
	sched, err := ParseRepeatRule(entry.RepeatRule)
	if err != nil {
		return time.Time{}, err
	}
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	from := entry.StartTime
	if now := p.Now(); now.After(from) {
		from = now
	}
	return sched.Next(from.In(loc)).UTC(), nil
}
