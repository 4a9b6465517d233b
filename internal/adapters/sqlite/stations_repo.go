package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

type StationsRepository struct {
	db *sql.DB
}

func NewStationsRepository(db *sql.DB) *StationsRepository {
	return &StationsRepository{db: db}
}

func (r *StationsRepository) Put(ctx context.Context, station domain.Station) (domain.Station, error) {
	created := station.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stations(station_id, station_name, station_url, created_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			station_name = excluded.station_name,
			station_url = excluded.station_url
	`, station.ID, station.Name, station.URL, formatTime(created))
	if err != nil {
		return domain.Station{}, err
	}
	return r.Get(ctx, station.ID)
}

func (r *StationsRepository) Get(ctx context.Context, id string) (domain.Station, error) {
	var st domain.Station
	var created string
	err := r.db.QueryRowContext(ctx, `
		SELECT station_id, station_name, station_url, created_at
		FROM stations WHERE station_id = ?
	`, id).Scan(&st.ID, &st.Name, &st.URL, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Station{}, ports.ErrNotFound
		}
		return domain.Station{}, err
	}
	st.CreatedAt = parseTime(created)
	return st, nil
}

func (r *StationsRepository) List(ctx context.Context) ([]domain.Station, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT station_id, station_name, station_url, created_at
		FROM stations ORDER BY station_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Station{}
	for rows.Next() {
		var st domain.Station
		var created string
		if err := rows.Scan(&st.ID, &st.Name, &st.URL, &created); err != nil {
			return nil, err
		}
		st.CreatedAt = parseTime(created)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *StationsRepository) Delete(ctx context.Context, id string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var future int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM schedule WHERE station_id = ? AND start_time > ?
	`, id, formatTime(now)).Scan(&future); err != nil {
		return err
	}
	if future > 0 {
		return ports.ErrConflict
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM stations WHERE station_id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ports.ErrNotFound
	}
	return tx.Commit()
}
