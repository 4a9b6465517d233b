package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/streamrec/internal/app"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

// RecordingLister expose les captures en cours (implémenté par app.Scheduler).
type RecordingLister interface {
	Recordings() []app.RecordingSnapshot
}

type Server struct {
	logger     zerolog.Logger
	stations   *app.StationService
	schedule   *app.ScheduleService
	recordings RecordingLister
	bus        ports.EventBus
	// recordingDir est servi en lecture seule sous /archive.
	recordingDir string
	freeSpace    func(path string) (uint64, error)
}

func NewServer(logger zerolog.Logger, stations *app.StationService, schedule *app.ScheduleService, recordings RecordingLister, bus ports.EventBus, recordingDir string) *Server {
	return &Server{
		logger:       logger,
		stations:     stations,
		schedule:     schedule,
		recordings:   recordings,
		bus:          bus,
		recordingDir: recordingDir,
		freeSpace:    app.FreeSpace,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("request_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote_ip"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.AccessHandler(accessLogFn))

	r.Route("/api/v1", func(r chi.Router) {
		// le flux SSE échappe au timeout des requêtes
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultRequestTimeout))

			r.Get("/health", s.handleHealth)
			r.Get("/version", s.handleVersion)
			r.Get("/openapi.json", s.handleOpenAPI)

			if s.stations != nil {
				NewStationsHandler(s.stations).Routes(r)
			}
			if s.schedule != nil {
				NewScheduleHandler(s.schedule).Routes(r)
			}
			if s.recordings != nil {
				r.Get("/recordings", s.handleRecordings)
			}
			if s.recordingDir != "" {
				r.Get("/archive/*", s.handleArchive)
			}
		})
	})

	return r
}
