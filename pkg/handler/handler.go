package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/strongmind/rtvi-gateway/pkg/auth"
	"github.com/strongmind/rtvi-gateway/pkg/bot"
	"github.com/strongmind/rtvi-gateway/pkg/config"
	"github.com/strongmind/rtvi-gateway/pkg/daily"
)

// BotManager is the bot process surface the handlers need.
type BotManager interface {
	ResolveImplementation(requested string) (string, error)
	Start(req bot.StartRequest) (int, error)
	Status(pid int) (string, error)
}

// Handler serves the bot-connect endpoints and the RTVI connect API.
type Handler struct {
	cfg   *config.Config
	rooms daily.Provisioner
	bots  BotManager
	auth  *auth.Authenticator
}

func New(cfg *config.Config, rooms daily.Provisioner, bots BotManager, authenticator *auth.Authenticator) *Handler {
	return &Handler{
		cfg:   cfg,
		rooms: rooms,
		bots:  bots,
		auth:  authenticator,
	}
}

// Router builds the HTTP routing table. All bot-starting endpoints pass
// through the same authentication gate; health and status do not.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/up", h.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/status/{pid}", h.statusHandler).Methods(http.MethodGet)
	r.Handle("/connect", h.auth.Middleware(http.HandlerFunc(h.connectHandler))).Methods(http.MethodPost)
	r.Handle("/connect/{bot_type}", h.auth.Middleware(http.HandlerFunc(h.connectHandler))).Methods(http.MethodPost)
	r.Handle("/", h.auth.Middleware(http.HandlerFunc(h.startAgentHandler))).Methods(http.MethodGet)
	r.Handle("/{bot_type}", h.auth.Middleware(http.HandlerFunc(h.startAgentHandler))).Methods(http.MethodGet)
	return r
}

func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startAgentHandler creates a room, starts a bot instance and redirects the
// browser to the room URL.
func (h *Handler) startAgentHandler(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r)

	impl, err := h.requestedImplementation(r)
	if err != nil {
		log.Warn("Rejected bot type", slog.String("error", err.Error()))
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	log.Info("Creating room", slog.String("implementation", impl), slog.String("user", principal))

	roomURL, token, err := h.rooms.Provision(r.Context())
	if err != nil {
		log.Error("Room provisioning failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	if _, err := h.bots.Start(bot.StartRequest{
		Implementation: impl,
		RoomURL:        roomURL,
		Token:          token,
	}); err != nil {
		log.Error("Failed to start bot", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	http.Redirect(w, r, roomURL, http.StatusTemporaryRedirect)
}

// connectHandler creates a room, starts a bot instance and returns the
// connection credentials expected by RTVI clients.
func (h *Handler) connectHandler(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r)

	impl, err := h.requestedImplementation(r)
	if err != nil {
		log.Warn("Rejected bot type", slog.String("error", err.Error()))
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	log.Info("Creating room for RTVI connection",
		slog.String("implementation", impl),
		slog.String("user", principal))

	// The body is optional; anything unparseable is treated as absent.
	var payload bot.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		payload = bot.Payload{}
	}

	roomURL, token, err := h.rooms.Provision(r.Context())
	if err != nil {
		log.Error("Room provisioning failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	req := bot.StartRequest{
		Implementation: impl,
		RoomURL:        roomURL,
		Token:          token,
	}
	if !payload.Empty() {
		req.Payload = &payload
	}

	if _, err := h.bots.Start(req); err != nil {
		log.Error("Failed to start bot", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Authentication bundle in the format expected by the RTVI transport.
	respondJSON(w, http.StatusOK, map[string]string{"room_url": roomURL, "token": token})
}

func (h *Handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r)

	pid, err := strconv.Atoi(mux.Vars(r)["pid"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid process id")
		return
	}

	status, err := h.bots.Status(pid)
	if err != nil {
		if errors.Is(err, bot.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Error("Status lookup failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "Failed to look up bot status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"bot_id": pid, "status": status})
}

// requestedImplementation resolves the bot implementation from the path
// variable or, when absent, the "bot" query parameter.
func (h *Handler) requestedImplementation(r *http.Request) (string, error) {
	requested := mux.Vars(r)["bot_type"]
	if requested == "" {
		requested = r.URL.Query().Get("bot")
	}
	return h.bots.ResolveImplementation(requested)
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return slog.With(
		slog.String("requestId", uuid.New().String()),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
	)
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
