package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

// ScheduleRepository implémente ports.ScheduleRepository.
// Toute erreur du driver remonte en domain.ErrStorageUnavailable.
type ScheduleRepository struct {
	db *sql.DB
}

var _ ports.ScheduleRepository = (*ScheduleRepository)(nil)

func NewScheduleRepository(db *sql.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const entrySelect = `
	SELECT s.schedule_id, s.station_id, COALESCE(st.station_name, ''), COALESCE(st.station_url, ''),
		s.start_time, s.duration_min, s.repeat_rule, s.status, s.output_path, s.observed_size,
		s.created_at, s.updated_at
	FROM schedule s
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.Entry, error) {
	var e domain.Entry
	var start, created, updated, status string
	err := row.Scan(&e.ID, &e.StationID, &e.StationName, &e.StationURL,
		&start, &e.DurationMin, &e.RepeatRule, &status, &e.OutputPath, &e.ObservedSize,
		&created, &updated)
	if err != nil {
		return domain.Entry{}, err
	}
	e.Status = domain.Status(status)
	e.StartTime = parseTime(start)
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	return e, nil
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(domain.CodeStorageUnavailable, err, "schedule store")
}

func (r *ScheduleRepository) NextDueEntry(ctx context.Context) (domain.Entry, error) {
	row := r.db.QueryRowContext(ctx, entrySelect+`
		INNER JOIN stations st ON st.station_id = s.station_id
		WHERE s.status = ?
		ORDER BY s.start_time ASC, s.schedule_id ASC
		LIMIT 1
	`, string(domain.StatusPending))
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Entry{}, domain.ErrNothingScheduled
		}
		return domain.Entry{}, storageErr(err)
	}
	return e, nil
}

// GetEntry exige la station : une entrée orpheline est introuvable pour le scheduler.
func (r *ScheduleRepository) GetEntry(ctx context.Context, id int64) (domain.Entry, error) {
	row := r.db.QueryRowContext(ctx, entrySelect+`
		INNER JOIN stations st ON st.station_id = s.station_id
		WHERE s.schedule_id = ?
	`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Entry{}, domain.Errorf(domain.CodeEntryNotFound, "schedule entry %d not found", id)
		}
		return domain.Entry{}, storageErr(err)
	}
	return e, nil
}

func (r *ScheduleRepository) Activate(ctx context.Context, id int64) error {
	return r.transition(ctx, id, domain.StatusActive)
}

func (r *ScheduleRepository) Complete(ctx context.Context, id int64) error {
	return r.transition(ctx, id, domain.StatusCompleted)
}

func (r *ScheduleRepository) Abort(ctx context.Context, id int64) error {
	return r.transition(ctx, id, domain.StatusAborted)
}

// transition applique next depuis tout statut autorisé par domain.CanTransition.
func (r *ScheduleRepository) transition(ctx context.Context, id int64, next domain.Status) error {
	from := []domain.Status{}
	for _, s := range []domain.Status{domain.StatusPending, domain.StatusActive} {
		if domain.CanTransition(s, next) {
			from = append(from, s)
		}
	}
	return r.guardedUpdate(ctx, id, `status = ?`, []any{string(next)}, from)
}

func (r *ScheduleRepository) UpdateObservedSize(ctx context.Context, id int64, bytes int64) error {
	if bytes < 0 {
		bytes = 0
	}
	return r.guardedUpdate(ctx, id, `observed_size = ?`, []any{bytes},
		[]domain.Status{domain.StatusPending, domain.StatusActive})
}

func (r *ScheduleRepository) UpdateOutputPath(ctx context.Context, id int64, path string) error {
	return r.guardedUpdate(ctx, id, `output_path = ?`, []any{path},
		[]domain.Status{domain.StatusPending})
}

// guardedUpdate met à jour une entrée seulement si son statut est dans allowed.
// 0 ligne touchée : EntryNotFound si l'entrée n'existe pas, AlreadyActiveOrTerminal sinon.
func (r *ScheduleRepository) guardedUpdate(ctx context.Context, id int64, set string, args []any, allowed []domain.Status) error {
	if len(allowed) == 0 {
		return domain.ErrAlreadyActiveOrTerminal
	}
	q := `UPDATE schedule SET ` + set + `, updated_at = ? WHERE schedule_id = ? AND status IN (` + placeholders(len(allowed)) + `)`
	params := append([]any{}, args...)
	params = append(params, formatTime(time.Now()), id)
	for _, s := range allowed {
		params = append(params, string(s))
	}

	res, err := r.db.ExecContext(ctx, q, params...)
	if err != nil {
		return storageErr(err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM schedule WHERE schedule_id = ?`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Errorf(domain.CodeEntryNotFound, "schedule entry %d not found", id)
		}
		return storageErr(err)
	}
	return domain.Errorf(domain.CodeAlreadyActiveOrTerminal, "schedule entry %d is %s", id, status)
}

func (r *ScheduleRepository) Enqueue(ctx context.Context, entry domain.Entry) (domain.Entry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Entry{}, storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	start := formatTime(entry.StartTime)

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT schedule_id FROM schedule
		WHERE station_id = ? AND start_time = ? AND status = ?
		ORDER BY schedule_id ASC LIMIT 1
	`, entry.StationID, start, string(domain.StatusPending)).Scan(&id)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE schedule
			SET duration_min = ?, repeat_rule = ?, output_path = ?, updated_at = ?
			WHERE schedule_id = ?
		`, entry.DurationMin, entry.RepeatRule, entry.OutputPath, now, id)
		if err != nil {
			return domain.Entry{}, storageErr(err)
		}
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO schedule(station_id, start_time, duration_min, repeat_rule, status, output_path, observed_size, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, 0, ?, ?)
		`, entry.StationID, start, entry.DurationMin, entry.RepeatRule, string(domain.StatusPending), entry.OutputPath, now, now)
		if err != nil {
			return domain.Entry{}, storageErr(err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return domain.Entry{}, storageErr(err)
		}
	default:
		return domain.Entry{}, storageErr(err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Entry{}, storageErr(err)
	}
	return r.Get(ctx, id)
}

// Get lit une entrée même si sa station a été supprimée (historique).
func (r *ScheduleRepository) Get(ctx context.Context, id int64) (domain.Entry, error) {
	row := r.db.QueryRowContext(ctx, entrySelect+`
		LEFT JOIN stations st ON st.station_id = s.station_id
		WHERE s.schedule_id = ?
	`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Entry{}, domain.Errorf(domain.CodeEntryNotFound, "schedule entry %d not found", id)
		}
		return domain.Entry{}, storageErr(err)
	}
	return e, nil
}

func (r *ScheduleRepository) List(ctx context.Context, statuses ...domain.Status) ([]domain.Entry, error) {
	q := entrySelect + ` LEFT JOIN stations st ON st.station_id = s.station_id`
	args := []any{}
	if len(statuses) > 0 {
		q += ` WHERE s.status IN (` + placeholders(len(statuses)) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	q += ` ORDER BY s.start_time ASC, s.schedule_id ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	out := []domain.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr(err)
		}
		out = append(out, e)
	}
	return out, storageErr(rows.Err())
}

func (r *ScheduleRepository) ActiveEntries(ctx context.Context) ([]domain.Entry, error) {
	return r.List(ctx, domain.StatusActive)
}

func (r *ScheduleRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM schedule WHERE schedule_id = ?`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Errorf(domain.CodeEntryNotFound, "schedule entry %d not found", id)
		}
		return storageErr(err)
	}
	switch domain.Status(status) {
	case domain.StatusActive, domain.StatusCompleted:
		return domain.Errorf(domain.CodeAlreadyActiveOrTerminal, "cannot delete %s schedule entry %d", status, id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule WHERE schedule_id = ?`, id); err != nil {
		return storageErr(err)
	}
	return storageErr(tx.Commit())
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
