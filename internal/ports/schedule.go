package ports

import (
	"context"
	"time"

	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
)

// ScheduleStore est le contrat consommé par le scheduler. Chaque appel est atomique.
// Les erreurs sont des domain.Error (NothingScheduled, EntryNotFound,
// AlreadyActiveOrTerminal, StorageUnavailable).
type ScheduleStore interface {
	// NextDueEntry renvoie l'entrée "pending" la plus proche (start_time puis id).
	NextDueEntry(ctx context.Context) (domain.Entry, error)
	GetEntry(ctx context.Context, id int64) (domain.Entry, error)
	Activate(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64) error
	Abort(ctx context.Context, id int64) error
	UpdateObservedSize(ctx context.Context, id int64, bytes int64) error
	// UpdateOutputPath n'est accepté que tant que l'entrée est "pending".
	UpdateOutputPath(ctx context.Context, id int64, path string) error
	// ActiveEntries liste les entrées "active", orphelines comprises.
	ActiveEntries(ctx context.Context) ([]domain.Entry, error)
}

// ScheduleRepository ajoute les opérations utilisées par l'API web.
type ScheduleRepository interface {
	ScheduleStore
	// Enqueue insère l'entrée, ou met à jour l'entrée "pending" de même (station, start).
	Enqueue(ctx context.Context, entry domain.Entry) (domain.Entry, error)
	// Get lit une entrée même si sa station a été supprimée.
	Get(ctx context.Context, id int64) (domain.Entry, error)
	// List filtre par statuts ; aucun statut = toutes les entrées.
	List(ctx context.Context, statuses ...domain.Status) ([]domain.Entry, error)
	// Delete refuse (AlreadyActiveOrTerminal) une entrée active ou terminée avec succès.
	Delete(ctx context.Context, id int64) error
}

type StationRepository interface {
	// Put crée la station ou met à jour nom/URL si elle existe.
	Put(ctx context.Context, station domain.Station) (domain.Station, error)
	Get(ctx context.Context, id string) (domain.Station, error)
	List(ctx context.Context) ([]domain.Station, error)
	// Delete renvoie ErrConflict tant qu'une entrée future référence la station.
	Delete(ctx context.Context, id string, now time.Time) error
}
