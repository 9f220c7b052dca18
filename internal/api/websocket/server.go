package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/crawl"
	"github.com/fortuna/flowscrape/internal/eventsource"
	"github.com/fortuna/flowscrape/internal/participant"
	"github.com/fortuna/flowscrape/internal/progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only progress feed
	},
}

// Message is one progress frame sent to clients.
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Message types.
const (
	TypeSnapshot    = "snapshot"
	TypeRunStart    = "run_start"
	TypeEventStart  = "event_start"
	TypePage        = "page"
	TypeParticipant = "participant"
	TypeSkipped     = "skipped"
	TypeEventDone   = "event_complete"
	TypeRunDone     = "run_complete"
	TypeRunError    = "run_error"
)

// Server represents the WebSocket server. It implements crawl.Reporter by
// broadcasting every callback.
type Server struct {
	port    string
	server  *http.Server
	hub     *Hub
	tracker *progress.Tracker
	logger  *zap.Logger
}

var _ crawl.Reporter = (*Server)(nil)

// NewServer creates a new WebSocket server. tracker may be nil; when set,
// new clients first receive its snapshot.
func NewServer(tracker *progress.Tracker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		hub:     NewHub(logger),
		tracker: tracker,
		logger:  logger,
	}
}

// Handler returns the routes served by Start. The hub must be running.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/progress", s.handleProgress)
	mux.HandleFunc("/ws/health", s.handleHealth)
	return mux
}

// Start starts the WebSocket server
func (s *Server) Start(port string) error {
	s.port = port

	// Start the hub in a goroutine
	go s.hub.Run()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("WebSocket server listening", zap.String("port", port))
	return s.server.ListenAndServe()
}

// handleProgress handles WebSocket connections for run progress
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("⚠️  Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	if s.tracker != nil {
		if msg, err := encode(TypeSnapshot, s.tracker.Snapshot()); err == nil {
			client.send <- msg
		}
	}

	select {
	case client.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// handleHealth returns WebSocket server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "healthy", "clients": %d}`, s.hub.ClientCount())
}

func encode(kind string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: kind, Timestamp: time.Now().UTC(), Data: data})
}

// broadcast sends a progress frame to all connected clients
func (s *Server) broadcast(kind string, data interface{}) {
	msg, err := encode(kind, data)
	if err != nil {
		s.logger.Warn("⚠️  Failed to encode progress message", zap.String("type", kind), zap.Error(err))
		return
	}
	s.hub.Broadcast(msg)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type eventRef struct {
	EventID string `json:"event_id"`
	Name    string `json:"name"`
	Index   int    `json:"index,omitempty"`
	Total   int    `json:"total,omitempty"`
	Page    int    `json:"page,omitempty"`
}

func (s *Server) OnRunStart(totalEvents int) {
	s.broadcast(TypeRunStart, map[string]int{"total_events": totalEvents})
}

func (s *Server) OnEventStart(ev eventsource.Event, index, total int) {
	s.broadcast(TypeEventStart, eventRef{EventID: ev.ID, Name: ev.Name, Index: index, Total: total})
}

func (s *Server) OnPageStart(ev eventsource.Event, page, _ int) {
	s.broadcast(TypePage, eventRef{EventID: ev.ID, Name: ev.Name, Page: page})
}

func (s *Server) OnParticipant(ev eventsource.Event, rec participant.Record) {
	s.broadcast(TypeParticipant, map[string]string{
		"event_id": ev.ID,
		"pid":      rec.BinomID,
		"dorsal":   rec.Field(participant.KeyDorsal),
		"guia":     rec.Field(participant.KeyGuia),
		"perro":    rec.Field(participant.KeyPerro),
	})
}

func (s *Server) OnParticipantSkipped(ev eventsource.Event, pid string, reason error) {
	data := map[string]string{"event_id": ev.ID, "pid": pid}
	if reason != nil {
		data["reason"] = reason.Error()
	}
	s.broadcast(TypeSkipped, data)
}

func (s *Server) OnEventComplete(_ eventsource.Event, result crawl.EventResult) {
	s.broadcast(TypeEventDone, result)
}

func (s *Server) OnRunComplete(summary crawl.Summary) {
	s.broadcast(TypeRunDone, summary)
}

func (s *Server) OnRunError(err error) {
	s.broadcast(TypeRunError, map[string]string{"error": err.Error()})
}
