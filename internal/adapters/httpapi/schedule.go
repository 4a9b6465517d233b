package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/streamrec/internal/app"
	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/httpjson"
)

type ScheduleHandler struct {
	schedule *app.ScheduleService
}

func NewScheduleHandler(schedule *app.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{schedule: schedule}
}

func (h *ScheduleHandler) Routes(r chi.Router) {
	r.Route("/schedule", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Delete("/{id}", h.delete)
	})
}

func (h *ScheduleHandler) list(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.Status
	for _, raw := range r.URL.Query()["status"] {
		st, err := domain.ParseStatus(raw)
		if err != nil {
			httpjson.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		statuses = append(statuses, st)
	}
	entries, err := h.schedule.List(r.Context(), statuses...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, entries)
}

func (h *ScheduleHandler) create(w http.ResponseWriter, r *http.Request) {
	var req app.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	entry, err := h.schedule.Enqueue(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, entry)
}

func (h *ScheduleHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.schedule.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, entry)
}

func (h *ScheduleHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	if err := h.schedule.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
