package routes

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	relayhandlers "github.com/deepgram/chatrelay/internal/api/v1/handlers/relay"
	"github.com/deepgram/chatrelay/internal/api/v1/middleware"
	"github.com/deepgram/chatrelay/internal/services"
)

// NewRouter wires every route onto a fresh router
func NewRouter(svcs *services.Services) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)

	relayService := svcs.GetRelayService()
	upgrader := relayhandlers.NewUpgrader(svcs.GetConfig().AllowedOrigins)
	manager := svcs.GetConnectionManager()
	limit := middleware.RateLimit("chat", svcs.GetChatLimiter())

	chat := limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayhandlers.HandleChat(relayService, w, r)
	}))
	chatWS := limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayhandlers.HandleChatWebSocket(relayService, upgrader, manager, w, r)
	}))

	// /api/chat is the path browsers already post to
	r.Handle("/api/chat", chat).Methods(http.MethodPost)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Handle("/chat", chat).Methods(http.MethodPost)
	v1.Handle("/chat/ws", chatWS).Methods(http.MethodGet)

	r.HandleFunc("/healthz", HandleHealth).Methods(http.MethodGet)

	return r
}

// HandleHealth reports that the process is serving
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
