package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/TheCacophonyProject/battery-advisor/internal/storage"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

type lockedState struct {
	mu sync.Mutex
	*advisor.EngineState
}

func (l *lockedState) Advisory() advisor.Advisory {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.EngineState.Advisory()
}

func (l *lockedState) Latest() (advisor.Sample, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.EngineState.Latest()
}

func (l *lockedState) PushSample(value float64, charging bool, ts float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.EngineState.PushSample(value, charging, ts)
}

type fakeLog struct {
	records []storage.Record
	limit   int
	err     error
}

func (f *fakeLog) ListAdvisories(limit int) ([]storage.Record, error) {
	f.limit = limit
	return f.records, f.err
}

func minutes(m float64) float64 {
	return float64(testNow.UnixMilli()) + m*60000
}

func newTestServer(t *testing.T, advisories AdvisoryLog, hub *Hub) (*Server, *lockedState) {
	t.Helper()
	state := &lockedState{EngineState: advisor.NewEngineState()}
	s := NewServer(state, advisories, hub, prometheus.NewRegistry(), nil)
	s.now = func() time.Time { return testNow }
	return s, state
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestGetAdvisoryNoData(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/advisory", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view AdvisoryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, advisor.KindNoData, view.Kind)
	assert.Nil(t, view.Level)
	assert.Nil(t, view.ETAMinutes)
	assert.Empty(t, view.Band)
}

func TestGetAdvisoryDepletion(t *testing.T) {
	s, state := newTestServer(t, nil, nil)
	for i, v := range []float64{80, 70, 60} {
		require.NoError(t, state.PushSample(v, false, minutes(float64(i)*10)))
	}

	rec := doRequest(t, s, http.MethodGet, "/api/advisory", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view AdvisoryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, advisor.KindDepletion, view.Kind)
	require.NotNil(t, view.ETAMinutes)
	assert.Equal(t, 60, *view.ETAMinutes)
	assert.Equal(t, "Battery may finish in ~60 min (~13:00)", view.Display)
	require.NotNil(t, view.Level)
	assert.Equal(t, 60.0, *view.Level)
	assert.Equal(t, "moderate", view.Band)
}

func TestGetRatesAndSamples(t *testing.T) {
	s, state := newTestServer(t, nil, nil)
	require.NoError(t, state.PushSample(50, true, minutes(0)))
	require.NoError(t, state.PushSample(51, true, minutes(2)))

	rec := doRequest(t, s, http.MethodGet, "/api/rates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rates struct {
		Rates []float64 `json:"rates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rates))
	assert.Equal(t, []float64{0.5}, rates.Rates)

	rec = doRequest(t, s, http.MethodGet, "/api/samples/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var samples []advisor.Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &samples))
	require.Len(t, samples, 2)
	assert.Equal(t, 51.0, samples[1].Value)
}

func TestPostSample(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"value": 15, "charging": false}`, http.StatusOK},
		{"explicit timestamp", `{"value": 15, "timestamp": 1717243200000}`, http.StatusOK},
		{"above range", `{"value": 150}`, http.StatusBadRequest},
		{"below range", `{"value": -1}`, http.StatusBadRequest},
		{"missing value", `{"charging": true}`, http.StatusBadRequest},
		{"bad json", `{"value":`, http.StatusBadRequest},
		{"bad timestamp", `{"value": 50, "timestamp": 1e300}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, state := newTestServer(t, nil, nil)
			rec := doRequest(t, s, http.MethodPost, "/api/samples", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status == http.StatusOK {
				var view AdvisoryView
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
				assert.Equal(t, advisor.KindCriticalLow, view.Kind)
				assert.Len(t, state.Samples(), 1)
			} else {
				assert.Empty(t, state.Samples())
			}
		})
	}
}

func TestListAdvisories(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	assert.Equal(t, http.StatusNotFound, doRequest(t, s, http.MethodGet, "/api/advisories", "").Code)

	log := &fakeLog{records: []storage.Record{{ID: 1, Kind: advisor.KindCharging, Message: "Charging normally."}}}
	s, _ = newTestServer(t, log, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/advisories?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, log.limit)
	var records []storage.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Equal(t, log.records, records)

	doRequest(t, s, http.MethodGet, "/api/advisories", "")
	assert.Equal(t, storage.DefaultListLimit, log.limit)

	assert.Equal(t, http.StatusBadRequest, doRequest(t, s, http.MethodGet, "/api/advisories?limit=none", "").Code)

	log.err = errors.New("disk gone")
	assert.Equal(t, http.StatusInternalServerError, doRequest(t, s, http.MethodGet, "/api/advisories", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "Test."})
	reg.MustRegister(counter)
	counter.Inc()

	s := NewServer(&lockedState{EngineState: advisor.NewEngineState()}, nil, nil, reg, nil)
	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_counter_total 1")
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)

	s, _ := newTestServer(t, nil, hub)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, MessageAdvisory, msg.Type)
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(advisor.KindNoData), payload["kind"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	hub.Broadcast(MessageSample, map[string]float64{"value": 42})
	msg = readMessage(t, conn)
	assert.Equal(t, MessageSample, msg.Type)
	assert.Equal(t, map[string]interface{}{"value": 42.0}, msg.Payload)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocketDisabled(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	assert.Equal(t, http.StatusNotFound, doRequest(t, s, http.MethodGet, "/ws", "").Code)
}
