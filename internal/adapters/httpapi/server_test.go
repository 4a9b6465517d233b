package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/streamrec/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/streamrec/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/streamrec/internal/app"
	"github.com/Guilhem-Bonnet/streamrec/internal/httpjson"
)

type staticRecordings []app.RecordingSnapshot

func (s staticRecordings) Recordings() []app.RecordingSnapshot { return s }

type testServer struct {
	srv      *Server
	handler  http.Handler
	schedule *sqlite.ScheduleRepository
	bus      *memorybus.Bus
	dir      string
}

func newTestServer(t *testing.T, recordings RecordingLister) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := memorybus.New()
	t.Cleanup(bus.Close)

	stationsRepo := sqlite.NewStationsRepository(db.SQL)
	scheduleRepo := sqlite.NewScheduleRepository(db.SQL)
	dir := t.TempDir()

	srv := NewServer(zerolog.Nop(),
		app.NewStationService(stationsRepo, bus),
		app.NewScheduleService(scheduleRepo, stationsRepo, bus),
		recordings, bus, dir)
	srv.freeSpace = func(string) (uint64, error) { return 42 << 30, nil }

	return &testServer{srv: srv, handler: srv.Router(), schedule: scheduleRepo, bus: bus, dir: dir}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (ts *testServer) seed(t *testing.T) app.EntryDTO {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/api/v1/stations", map[string]string{
		"id": "fip", "name": "FIP", "url": "http://radio.example/fip.mp3",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ts.do(t, http.MethodPost, "/api/v1/schedule", map[string]any{
		"stationId":   "fip",
		"startTime":   "2099-01-02T06:30:00Z",
		"durationMin": 30,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[app.EntryDTO](t, rr)
}

func TestStationsAndSchedule(t *testing.T) {
	ts := newTestServer(t, nil)
	entry := ts.seed(t)
	require.Equal(t, "fip 2099-01-02 06-30-00.ts", entry.OutputPath)
	require.Equal(t, "FIP", entry.StationName)

	rr := ts.do(t, http.MethodGet, "/api/v1/stations/fip", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "http://radio.example/fip.mp3", decode[app.StationDTO](t, rr).URL)

	rr = ts.do(t, http.MethodGet, "/api/v1/schedule?status=pending", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decode[[]app.EntryDTO](t, rr), 1)

	rr = ts.do(t, http.MethodGet, "/api/v1/schedule?status=completed&status=aborted", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, decode[[]app.EntryDTO](t, rr))

	rr = ts.do(t, http.MethodGet, "/api/v1/schedule?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// une capture future bloque la suppression de la station
	rr = ts.do(t, http.MethodDelete, "/api/v1/stations/fip", nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = ts.do(t, http.MethodDelete, "/api/v1/schedule/"+jsonNumber(entry.ID), nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.do(t, http.MethodDelete, "/api/v1/stations/fip", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestScheduleErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	entry := ts.seed(t)

	rr := ts.do(t, http.MethodGet, "/api/v1/schedule/abc", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/v1/schedule/999", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "entry_not_found", decode[httpjson.ErrorBody](t, rr).Code)

	rr = ts.do(t, http.MethodPost, "/api/v1/schedule", map[string]any{
		"stationId": "fip", "startTime": "2099-01-02T06:30:00Z", "durationMin": 1440,
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodPost, "/api/v1/schedule", map[string]any{
		"stationId": "unknown", "startTime": "2099-01-02T06:30:00Z", "durationMin": 10,
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	require.NoError(t, ts.schedule.Activate(context.Background(), entry.ID))
	rr = ts.do(t, http.MethodDelete, "/api/v1/schedule/"+jsonNumber(entry.ID), nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "already_active_or_terminal", decode[httpjson.ErrorBody](t, rr).Code)
}

func TestHealthAndRecordings(t *testing.T) {
	snap := app.RecordingSnapshot{EntryID: 3, StationID: "fip", Phase: app.PhaseRunning, Size: 1024}
	ts := newTestServer(t, staticRecordings{snap})

	rr := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	health := decode[HealthDTO](t, rr)
	require.Equal(t, "ok", health.Status)
	require.Equal(t, 1, health.Recording)
	require.Equal(t, uint64(42<<30), health.FreeBytes)

	rr = ts.do(t, http.MethodGet, "/api/v1/recordings", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[[]app.RecordingSnapshot](t, rr)
	require.Len(t, got, 1)
	require.Equal(t, int64(3), got[0].EntryID)

	rr = ts.do(t, http.MethodGet, "/api/v1/version", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(t, http.MethodGet, "/api/v1/openapi.json", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestArchiveServesRecordings(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(ts.dir, "fip.ts"), []byte("mpegts"), 0o644))

	rr := ts.do(t, http.MethodGet, "/api/v1/archive/fip.ts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "audio/mp2t", rr.Header().Get("Content-Type"))
	require.Equal(t, "mpegts", rr.Body.String())

	rr = ts.do(t, http.MethodGet, "/api/v1/archive/missing.ts", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEventsStreamsBus(t *testing.T) {
	ts := newTestServer(t, nil)
	server := httptest.NewServer(ts.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/events?topic=recording.started", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	readUntil := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}

	readUntil("event: hello")
	ts.bus.Publish("schedule.enqueued", []byte(`{"id":9}`))
	ts.bus.Publish("recording.started", []byte(`{"entryId":1}`))

	require.Equal(t, "event: recording.started", readUntil("event: recording."))
	require.Equal(t, `data: {"entryId":1}`, readUntil("data:"))
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
