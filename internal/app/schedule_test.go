package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/streamrec/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/streamrec/internal/domain"
	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

func newScheduleService() (*ScheduleService, *memStore) {
	store := newMemStore()
	stations := newMemStations(domain.Station{ID: "fip", Name: "FIP", URL: "http://radio.example/fip.mp3"})
	return NewScheduleService(store, stations, memorybus.New()), store
}

func TestScheduleService_EnqueueDerivesOutputName(t *testing.T) {
	svc, _ := newScheduleService()
	start := time.Date(2026, 10, 19, 6, 30, 0, 0, time.UTC)

	dto, err := svc.Enqueue(context.Background(), EnqueueRequest{StationID: "fip", StartTime: start, DurationMin: 90})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, dto.Status)
	require.Equal(t, "fip 2026-10-19 06-30-00.ts", dto.OutputPath)
	require.Equal(t, 90, dto.DurationMin)
}

func TestScheduleService_EnqueueUpsertsSameStart(t *testing.T) {
	svc, store := newScheduleService()
	start := time.Date(2026, 10, 19, 6, 30, 0, 0, time.UTC)

	first, err := svc.Enqueue(context.Background(), EnqueueRequest{StationID: "fip", StartTime: start, DurationMin: 30})
	require.NoError(t, err)
	second, err := svc.Enqueue(context.Background(), EnqueueRequest{StationID: "fip", StartTime: start, DurationMin: 45, OutputPath: "matin/show"})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	got := store.entry(first.ID)
	require.Equal(t, 45, got.DurationMin)
	require.Equal(t, "matin_show.ts", got.OutputPath)
}

func TestScheduleService_EnqueueValidation(t *testing.T) {
	svc, _ := newScheduleService()
	start := time.Date(2026, 10, 19, 6, 30, 0, 0, time.UTC)

	cases := map[string]EnqueueRequest{
		"missing station": {StartTime: start, DurationMin: 5},
		"unknown station": {StationID: "nope", StartTime: start, DurationMin: 5},
		"missing start":   {StationID: "fip", DurationMin: 5},
		"negative":        {StationID: "fip", StartTime: start, DurationMin: -1},
		"too long":        {StationID: "fip", StartTime: start, DurationMin: domain.MaxDurationMin},
		"bad repeat":      {StationID: "fip", StartTime: start, DurationMin: 5, RepeatRule: "every tuesday"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Enqueue(context.Background(), req)
			require.ErrorIs(t, err, ports.ErrInvalid)
			require.True(t, IsInvalid(err))
		})
	}
}

func TestScheduleService_DeleteRefusesActive(t *testing.T) {
	svc, store := newScheduleService()
	active := store.add(domain.Entry{StationID: "fip", Status: domain.StatusActive})
	aborted := store.add(domain.Entry{StationID: "fip", Status: domain.StatusAborted})

	require.ErrorIs(t, svc.Delete(context.Background(), active.ID), domain.ErrAlreadyActiveOrTerminal)
	require.NoError(t, svc.Delete(context.Background(), aborted.ID))

	_, err := svc.Get(context.Background(), aborted.ID)
	require.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestScheduleService_ListFiltersByStatus(t *testing.T) {
	svc, store := newScheduleService()
	store.add(domain.Entry{StationID: "fip", Status: domain.StatusActive})
	store.add(domain.Entry{StationID: "fip"})

	all, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)

	pending, err := svc.List(context.Background(), domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.StatusPending, pending[0].Status)
}

func TestOutputName(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Equal(t, "fip 2026-01-02 03-04-05.ts", OutputName("", "fip", start))
	require.Equal(t, "a_b.mp3", OutputName("a:b.mp3", "fip", start))
	require.Equal(t, "news.ts", OutputName(" news ", "fip", start))
	require.Equal(t, "fip 2026-01-02 03-04-05.ts", OutputName("..", "fip", start))
	require.Equal(t, "fip 2026-01-02 03-04-05.ts", OutputName(".", "fip", start))
	require.Equal(t, "_etc_passwd.ts", OutputName("/etc/passwd", "fip", start))
	require.Equal(t, ".._x", OutputName("../x", "fip", start))
}

func TestStationService_PutValidates(t *testing.T) {
	svc := NewStationService(newMemStations(), nil)

	_, err := svc.Put(context.Background(), "", "FIP", "http://radio.example/fip.mp3")
	require.ErrorIs(t, err, ports.ErrInvalid)
	_, err = svc.Put(context.Background(), "fip", "FIP", "file:///etc/passwd")
	require.ErrorIs(t, err, ports.ErrInvalid)
	_, err = svc.Put(context.Background(), "a/b", "FIP", "http://radio.example/fip.mp3")
	require.ErrorIs(t, err, ports.ErrInvalid)

	st, err := svc.Put(context.Background(), " fip ", "", "https://radio.example/fip.mp3")
	require.NoError(t, err)
	require.Equal(t, "fip", st.ID)
	require.Equal(t, "fip", st.Name)

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.Delete(context.Background(), "fip"))
	_, err = svc.Get(context.Background(), "fip")
	require.ErrorIs(t, err, ports.ErrNotFound)
}
