// Package api is the serving edge: websocket ingest for landmark frames,
// a websocket fan-out hub for result snapshots, and a small JSON control
// surface for the clinician console.
package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kinetic-rehab/reach.report/internal/monitoring"
	"github.com/kinetic-rehab/reach.report/internal/session"
	"github.com/kinetic-rehab/reach.report/internal/units"
	"github.com/kinetic-rehab/reach.report/internal/worker"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	w    *worker.Worker
	sess *session.Driver
	hub  *ResultHub
}

func NewServer(w *worker.Worker, sess *session.Driver, hub *ResultHub) *Server {
	return &Server{w: w, sess: sess, hub: hub}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := lrw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response does not implement http.Hijacker")
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/frames", s.handleFrames)
	mux.HandleFunc("/ws/results", s.hub.HandleWebSocket)
	mux.HandleFunc("/api/control", s.handleControl)
	mux.HandleFunc("/api/session", s.showSession)
	mux.HandleFunc("/api/healthz", s.healthz)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleControl applies one control command synchronously: the response is
// not written until the worker goroutine has applied it, so a client that
// calibrates and then streams frames observes the calibrated engine.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var msg Envelope
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid control payload: "+err.Error())
		return
	}

	ctl, err := msg.control()
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctl.Err = make(chan error, 1)
	s.w.Control(ctl)
	if err := <-ctl.Err; err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "applied", "command": msg.Type})
}

type sessionResponse struct {
	Summary       session.Summary         `json:"summary"`
	Attempts      []session.AttemptMetric `json:"attempts"`
	DroppedFrames int64                   `json:"droppedFrames"`
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	distUnits := units.CM
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValidDistanceUnit(u) {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'units' parameter")
			return
		}
		distUnits = u
	}

	summary := s.sess.Summarize()
	summary.MeanReachCm = units.ConvertDistance(summary.MeanReachCm, distUnits)
	summary.MaxReachCm = units.ConvertDistance(summary.MaxReachCm, distUnits)
	summary.P50ReachCm = units.ConvertDistance(summary.P50ReachCm, distUnits)
	summary.P95ReachCm = units.ConvertDistance(summary.P95ReachCm, distUnits)

	attempts := s.sess.History()
	for i := range attempts {
		attempts[i].MaxReachCm = units.ConvertDistance(attempts[i].MaxReachCm, distUnits)
	}

	resp := sessionResponse{
		Summary:       summary,
		Attempts:      attempts,
		DroppedFrames: s.w.DroppedFrames(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write session")
		return
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":        true,
		"sessionId": s.sess.SessionID(),
		"clients":   s.hub.ConnectedCount(),
	})
}
