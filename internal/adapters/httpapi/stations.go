package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/streamrec/internal/app"
	"github.com/Guilhem-Bonnet/streamrec/internal/httpjson"
)

type StationsHandler struct {
	stations *app.StationService
}

func NewStationsHandler(stations *app.StationService) *StationsHandler {
	return &StationsHandler{stations: stations}
}

type putStationRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (h *StationsHandler) Routes(r chi.Router) {
	r.Route("/stations", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.put)
		r.Get("/{id}", h.get)
		r.Delete("/{id}", h.delete)
	})
}

func (h *StationsHandler) list(w http.ResponseWriter, r *http.Request) {
	stations, err := h.stations.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, stations)
}

func (h *StationsHandler) put(w http.ResponseWriter, r *http.Request) {
	var req putStationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	st, err := h.stations.Put(r.Context(), req.ID, req.Name, req.URL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, st)
}

func (h *StationsHandler) get(w http.ResponseWriter, r *http.Request) {
	st, err := h.stations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, st)
}

func (h *StationsHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.stations.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
