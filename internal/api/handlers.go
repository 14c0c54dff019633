package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/TheCacophonyProject/battery-advisor/internal/storage"
	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Advisor is the engine the API reports on and feeds samples to.
type Advisor interface {
	Advisory() advisor.Advisory
	RecentRates() []float64
	Samples() []advisor.Sample
	Latest() (advisor.Sample, bool)
	PushSample(value float64, charging bool, timestampMillis float64) error
}

// AdvisoryLog lists past advisories.
type AdvisoryLog interface {
	ListAdvisories(limit int) ([]storage.Record, error)
}

// AdvisoryView is the advisory as shown to a user, with the finish time and the level it
// was raised at.
type AdvisoryView struct {
	Kind       advisor.Kind `json:"kind"`
	Message    string       `json:"message"`
	Display    string       `json:"display"`
	ETAMinutes *int         `json:"eta_minutes"`
	Level      *float64     `json:"level"`
	Band       string       `json:"band,omitempty"`
	Charging   bool         `json:"charging"`
	SampledAt  *time.Time   `json:"sampled_at,omitempty"`
}

func NewAdvisoryView(a advisor.Advisory, latest *advisor.Sample, now time.Time) AdvisoryView {
	v := AdvisoryView{
		Kind:       a.Kind,
		Message:    a.Message,
		Display:    a.WithFinishTime(now),
		ETAMinutes: a.ETAMinutes,
	}
	if latest != nil {
		level := latest.Value
		sampledAt := latest.Timestamp
		v.Level = &level
		v.Band = advisor.LevelBand(level)
		v.Charging = latest.Flag
		v.SampledAt = &sampledAt
	}
	return v
}

type sampleRequest struct {
	Value     *float64 `json:"value"`
	Charging  bool     `json:"charging"`
	Timestamp *float64 `json:"timestamp"`
}

// Server serves the HTTP API.
type Server struct {
	advisor    Advisor
	advisories AdvisoryLog
	hub        *Hub
	gatherer   prometheus.Gatherer
	log        *logging.Logger
	now        func() time.Time
}

// NewServer creates the API server. advisories and hub may be nil, their endpoints then
// respond with 404.
func NewServer(a Advisor, advisories AdvisoryLog, hub *Hub, gatherer prometheus.Gatherer, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewLogger("info")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		advisor:    a,
		advisories: advisories,
		hub:        hub,
		gatherer:   gatherer,
		log:        log,
		now:        time.Now,
	}
}

func (s *Server) currentView() AdvisoryView {
	var latest *advisor.Sample
	if sample, ok := s.advisor.Latest(); ok {
		latest = &sample
	}
	return NewAdvisoryView(s.advisor.Advisory(), latest, s.now())
}

func (s *Server) handleGetAdvisory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.currentView())
}

func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"unit":  "%/min",
		"rates": s.advisor.RecentRates(),
	})
}

func (s *Server) handleGetSamples(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.advisor.Samples())
}

func (s *Server) handlePostSample(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "can't parse sample: "+err.Error())
		return
	}
	if req.Value == nil {
		s.writeError(w, http.StatusBadRequest, "sample has no value")
		return
	}
	ts := float64(s.now().UnixMilli())
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	err := s.advisor.PushSample(*req.Value, req.Charging, ts)
	if errors.Is(err, advisor.ErrInvalidSample) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.log.Error("Failed to add sample: ", err)
		s.writeError(w, http.StatusInternalServerError, "failed to add sample")
		return
	}
	s.writeJSON(w, http.StatusOK, s.currentView())
}

func (s *Server) handleListAdvisories(w http.ResponseWriter, r *http.Request) {
	if s.advisories == nil {
		s.writeError(w, http.StatusNotFound, "advisory log is disabled")
		return
	}
	limit := storage.DefaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.advisories.ListAdvisories(limit)
	if err != nil {
		s.log.Error("Failed to list advisories: ", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list advisories")
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleWebSocket registers a client with the hub after sending it the current advisory.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, http.StatusNotFound, "live feed is disabled")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("Websocket upgrade error: %v", err)
		return
	}
	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}

	initial, err := json.Marshal(Message{Type: MessageAdvisory, Payload: s.currentView()})
	if err == nil {
		c.send <- initial
	}

	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debugf("Failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
