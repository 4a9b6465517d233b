package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/streamrec/internal/app"
	"github.com/Guilhem-Bonnet/streamrec/internal/buildinfo"
	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/httpjson"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

const defaultRequestTimeout = 30 * time.Second

type HealthDTO struct {
	Status       string `json:"status"`
	Recording    int    `json:"recording"`
	RecordingDir string `json:"recordingDir,omitempty"`
	FreeBytes    uint64 `json:"freeBytes,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := HealthDTO{Status: "ok", RecordingDir: s.recordingDir}
	if s.recordings != nil {
		out.Recording = len(s.recordings.Recordings())
	}
	if s.recordingDir != "" && s.freeSpace != nil {
		if free, err := s.freeSpace(s.recordingDir); err == nil {
			out.FreeBytes = free
		} else {
			hlog.FromRequest(r).Debug().Err(err).Msg("free space unavailable")
		}
	}
	httpjson.Write(w, http.StatusOK, out)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, buildinfo.Current())
}

func accessLogFn(r *http.Request, status, size int, duration time.Duration) {
	logger := hlog.FromRequest(r)
	logger.Info().
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("http")
}

// writeServiceError traduit les erreurs des services en statut HTTP.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := string(domain.CodeOf(err))
	switch {
	case app.IsInvalid(err):
		httpjson.WriteCodedError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ports.ErrNotFound), errors.Is(err, domain.ErrEntryNotFound):
		httpjson.WriteCodedError(w, http.StatusNotFound, code, "not found")
	case errors.Is(err, ports.ErrConflict):
		httpjson.WriteCodedError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrAlreadyActiveOrTerminal):
		httpjson.WriteCodedError(w, http.StatusConflict, code, err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		hlog.FromRequest(r).Error().Err(err).Msg("storage unavailable")
		httpjson.WriteCodedError(w, http.StatusServiceUnavailable, code, "storage unavailable")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		httpjson.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
