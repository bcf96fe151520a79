// Package httpapi exposes the engine's REST collaborator surface: room
// creation, health and a metrics snapshot. The realtime protocol itself
// lives in the gateway package; this server only mounts its upgrade
// endpoint.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/sprintpoker/sprintpoker/internal/gateway"
	"github.com/sprintpoker/sprintpoker/internal/perf"
	"github.com/sprintpoker/sprintpoker/internal/rooms"
)

// Server wires the REST surface and the WebSocket upgrade endpoint onto one
// HTTP listener.
type Server struct {
	rooms *rooms.App
	ws    *gateway.WebSocketHandler
	perf  *perf.Recorder
}

// NewServer creates the HTTP surface over the room service.
func NewServer(app *rooms.App, ws *gateway.WebSocketHandler, pf *perf.Recorder) *Server {
	return &Server{rooms: app, ws: ws, perf: pf}
}

// CreateRoomRequest is the body of POST /api/rooms.
type CreateRoomRequest struct {
	HostName string `json:"hostName"`
}

// CreateRoomResponse returns the room code and its absolute expiry.
type CreateRoomResponse struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Handler builds the full middleware-wrapped handler: session cookies,
// CORS, HTTP/2 over cleartext.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.Handle("/api/socket", s.ws)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins:   []string{"*"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})

	handler := sessionMiddleware(c.Handler(mux))
	return h2c.NewHandler(handler, &http2.Server{})
}

// NewHTTPServer returns a ready-to-run server on the given port.
func (s *Server) NewHTTPServer(port string) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// sessionMiddleware ensures every request carries the per-browser-session
// id cookie the gateway uses for host elevation.
func sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(gateway.SessionCookieName); err != nil {
			sid := uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     gateway.SessionCookieName,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			r.AddCookie(&http.Cookie{Name: gateway.SessionCookieName, Value: sid})
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	stop := s.perf.Start("http_handler.create_room")
	defer stop()

	var req CreateRoomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2048)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hostName := strings.TrimSpace(req.HostName)
	if hostName == "" {
		writeJSONError(w, http.StatusBadRequest, "hostName is required")
		return
	}
	sid := ""
	if cookie, err := r.Cookie(gateway.SessionCookieName); err == nil {
		sid = cookie.Value
	}
	room, err := s.rooms.Create(r.Context(), hostName, sid)
	if err != nil {
		log.Error().Err(err).Msg("room creation failed")
		writeJSONError(w, http.StatusInternalServerError, "could not create room")
		return
	}
	writeJSON(w, http.StatusCreated, CreateRoomResponse{ID: room.ID, ExpiresAt: room.ExpiresAt})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.perf.TakeSnapshot())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
