// Command chatecho is a local chat endpoint for exercising chatfire. It
// accepts connections on /chat/{roomId}, validates each message and echoes it
// back with a SUCCESS status, or replies with an ERROR status listing the
// validation failures. GET /health reports uptime and connection counts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/torosent/chatfire/internal/message"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

type successResponse struct {
	OriginalMessage json.RawMessage `json:"originalMessage"`
	ServerTimestamp string          `json:"serverTimestamp"`
	Status          string          `json:"status"`
	RoomID          string          `json:"roomId"`
}

type errorResponse struct {
	Status    string   `json:"status"`
	Errors    []string `json:"errors"`
	Timestamp string   `json:"timestamp"`
}

// inbound mirrors the wire message with pointer fields so missing keys can
// be told apart from empty ones.
type inbound struct {
	UserID      *string `json:"userId"`
	Username    *string `json:"username"`
	Message     *string `json:"message"`
	Timestamp   *string `json:"timestamp"`
	MessageType *string `json:"messageType"`
}

func main() {
	port := flag.Int("port", 8080, "Listening port")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	srv := &server{log: logger}
	addr := fmt.Sprintf(":%d", *port)
	logger.Info("chat echo server listening", zap.String("addr", addr))
	httpSrv := &http.Server{Addr: addr, Handler: srv.routes(), ReadHeaderTimeout: 5 * time.Second}
	if err := httpSrv.ListenAndServe(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

type server struct {
	log       *zap.Logger
	processed atomic.Int64
	upgrader  websocket.Upgrader
	started   time.Time

	roomsMu sync.Mutex
	rooms   map[string]int // open connections per room
}

type healthResponse struct {
	Status            string `json:"status"`
	Service           string `json:"service"`
	Timestamp         string `json:"timestamp"`
	StartTime         string `json:"startTime"`
	Uptime            string `json:"uptime"`
	ActiveConnections int    `json:"activeConnections"`
	ActiveRooms       int    `json:"activeRooms"`
	MessagesProcessed int64  `json:"messagesProcessed"`
}

func (s *server) routes() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	conns, rooms := s.connectionCounts()
	now := time.Now()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(marshal(healthResponse{
		Status:            "UP",
		Service:           "chatecho",
		Timestamp:         now.UTC().Format(time.RFC3339),
		StartTime:         s.started.UTC().Format(time.RFC3339),
		Uptime:            formatUptime(now.Sub(s.started)),
		ActiveConnections: conns,
		ActiveRooms:       rooms,
		MessagesProcessed: s.processed.Load(),
	}))
}

func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%dh %dm %ds", secs/3600, secs%3600/60, secs%60)
}

// track adjusts the open connection count of room by delta.
func (s *server) track(room string, delta int) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	if s.rooms == nil {
		s.rooms = make(map[string]int)
	}
	s.rooms[room] += delta
	if s.rooms[room] <= 0 {
		delete(s.rooms, room)
	}
}

func (s *server) connectionCounts() (conns, rooms int) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	for _, n := range s.rooms {
		conns += n
	}
	return conns, len(s.rooms)
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimPrefix(r.URL.Path, "/chat/")
	if room == "" || strings.Contains(room, "/") {
		http.Error(w, "room id required: /chat/{roomId}", http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	s.track(room, 1)
	defer s.track(room, -1)
	s.log.Debug("connected", zap.String("room", room), zap.String("remote", r.RemoteAddr))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("disconnected", zap.String("room", room), zap.Error(err))
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, s.reply(room, data)); err != nil {
			return
		}
	}
}

// reply builds the response payload for one inbound message.
func (s *server) reply(room string, data []byte) []byte {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return marshal(errorResponse{Status: "ERROR", Errors: []string{"Invalid JSON format: " + err.Error()}, Timestamp: now})
	}
	if errs := validate(in); len(errs) > 0 {
		return marshal(errorResponse{Status: "ERROR", Errors: errs, Timestamp: now})
	}

	s.processed.Add(1)
	return marshal(successResponse{
		OriginalMessage: json.RawMessage(data),
		ServerTimestamp: now,
		Status:          message.StatusSuccess,
		RoomID:          room,
	})
}

func validate(in inbound) []string {
	var errs []string

	if in.UserID == nil {
		errs = append(errs, "userId is required")
	} else if id, err := strconv.Atoi(*in.UserID); err != nil {
		errs = append(errs, "userId must be a valid integer")
	} else if id < 1 || id > 100000 {
		errs = append(errs, "userId must be between 1 and 100000")
	}

	if in.Username == nil {
		errs = append(errs, "username is required")
	} else {
		if n := utf8.RuneCountInString(*in.Username); n < 3 || n > 20 {
			errs = append(errs, "username must be 3-20 characters")
		}
		if !usernamePattern.MatchString(*in.Username) {
			errs = append(errs, "username must be alphanumeric")
		}
	}

	if in.Message == nil {
		errs = append(errs, "message is required")
	} else {
		if n := utf8.RuneCountInString(*in.Message); n < 1 || n > 500 {
			errs = append(errs, "message must be 1-500 characters")
		}
		if strings.TrimSpace(*in.Message) == "" {
			errs = append(errs, "message cannot be empty or whitespace only")
		}
	}

	if in.Timestamp == nil {
		errs = append(errs, "timestamp is required")
	} else if _, err := time.Parse(time.RFC3339, *in.Timestamp); err != nil {
		errs = append(errs, "timestamp must be valid ISO-8601 format (e.g., 2026-02-08T10:30:00Z)")
	}

	if in.MessageType == nil {
		errs = append(errs, "messageType is required")
	} else if _, err := message.ParseKind(*in.MessageType); err != nil {
		errs = append(errs, "messageType must be one of TEXT, JOIN, LEAVE")
	}

	return errs
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"status":"ERROR","errors":["internal error"]}`)
	}
	return data
}
