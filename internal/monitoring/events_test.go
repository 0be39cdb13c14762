package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvents_IncAndGet(t *testing.T) {
	t.Parallel()

	e := NewEvents()
	assert.Equal(t, uint64(0), e.Get(EventObservationGated))

	e.Inc(EventObservationGated)
	e.Add(EventObservationGated, 2)
	e.Inc(EventClampViolation)

	assert.Equal(t, uint64(3), e.Get(EventObservationGated))
	assert.Equal(t, map[string]uint64{
		EventObservationGated: 3,
		EventClampViolation:   1,
	}, e.Snapshot())
}

func TestEvents_ConcurrentInc(t *testing.T) {
	t.Parallel()

	e := NewEvents()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				e.Inc(EventTaskSkipped)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), e.Get(EventTaskSkipped))
}

func TestEvents_ServeHTTP(t *testing.T) {
	t.Parallel()

	e := NewEvents()
	e.Inc("b.second")
	e.Add("a.first", 4)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []struct {
		Name  string `json:"name"`
		Count uint64 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "a.first", got[0].Name)
	assert.Equal(t, uint64(4), got[0].Count)
	assert.Equal(t, "b.second", got[1].Name)
}

func TestEvent_LogsAndCounts(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var logged bool
	SetLogger(func(string, ...interface{}) { logged = true })

	before := DefaultEvents.Get(EventCycleOverrun)
	Event(EventCycleOverrun, "cycle took %v", "20ms")
	assert.True(t, logged)
	assert.Equal(t, before+1, DefaultEvents.Get(EventCycleOverrun))
}
