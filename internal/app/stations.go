package app

import (
	"context"
	"strings"
	"time"

	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

type StationService struct {
	repo ports.StationRepository
	bus  ports.EventBus
	now  func() time.Time
}

func NewStationService(repo ports.StationRepository, bus ports.EventBus) *StationService {
	return &StationService{repo: repo, bus: bus, now: time.Now}
}

type StationDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

func toStationDTO(s domain.Station) StationDTO {
	return StationDTO{ID: s.ID, Name: s.Name, URL: s.URL, CreatedAt: s.CreatedAt}
}

// Put crée la station ou met à jour son nom et son URL.
func (s *StationService) Put(ctx context.Context, id, name, url string) (StationDTO, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	url = strings.TrimSpace(url)
	if id == "" {
		return StationDTO{}, invalidf("missing station id")
	}
	if strings.ContainsAny(id, "/\\") {
		return StationDTO{}, invalidf("station id %q must not contain path separators", id)
	}
	if !domain.ValidStreamURL(url) {
		return StationDTO{}, invalidf("station url %q is not an http(s) url", url)
	}
	if name == "" {
		name = id
	}

	st, err := s.repo.Put(ctx, domain.Station{ID: id, Name: name, URL: url, CreatedAt: s.now().UTC()})
	if err != nil {
		return StationDTO{}, err
	}
	publishJSON(s.bus, "station.updated", toStationDTO(st))
	return toStationDTO(st), nil
}

func (s *StationService) Get(ctx context.Context, id string) (StationDTO, error) {
	st, err := s.repo.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return StationDTO{}, err
	}
	return toStationDTO(st), nil
}

func (s *StationService) List(ctx context.Context) ([]StationDTO, error) {
	stations, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StationDTO, 0, len(stations))
	for _, st := range stations {
		out = append(out, toStationDTO(st))
	}
	return out, nil
}

// Delete échoue avec ports.ErrConflict tant qu'une capture future vise la station.
func (s *StationService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.Delete(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	publishJSON(s.bus, "station.deleted", map[string]string{"id": id})
	return nil
}
