package http

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/Wyydra/meshcall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/meshcall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ICEServer is the browser RTCIceServer shape.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type Handler struct {
	Rooms      *service.RoomService
	Hub        *ws.Hub
	Auth       *Authenticator
	ICEServers []ICEServer

	upgrader websocket.Upgrader
}

// NewHandler builds the relay handler. An empty allowedOrigins accepts any
// origin.
func NewHandler(rooms *service.RoomService, hub *ws.Hub, auth *Authenticator, iceServers []ICEServer, allowedOrigins []string) *Handler {
	return &Handler{
		Rooms:      rooms,
		Hub:        hub,
		Auth:       auth,
		ICEServers: iceServers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms/{scope}", h.room)
		r.Get("/ice-servers", h.iceServers)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Writing response failed")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.Hub.Count(),
		"rooms":       h.Rooms.RoomCount(),
	})
}

func (h *Handler) room(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	members, ok := h.Rooms.Members(scope)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":    scope,
		"members": members,
	})
}

func (h *Handler) iceServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"iceServers": h.ICEServers})
}
