package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"songBot/internal/app/events"
	"songBot/internal/domain"
	"songBot/internal/usecase/commands"
)

// ChatController is the slice of the chat connection the API drives.
type ChatController interface {
	State() domain.ConnectionState
	Channel() string
	CommandsEnabled() bool
	SetCommandsEnabled(ctx context.Context, enabled bool) error
	ConnectToChannel(ctx context.Context, channelName, token, clientID string) error
	LeaveChannel(ctx context.Context) error
}

type CredentialStore interface {
	LoadToken(ctx context.Context) (string, bool, error)
	LoadTwitchToken(ctx context.Context) (string, bool, error)
	LoadTwitchUsername(ctx context.Context) (string, bool, error)
	LoadTwitchChannelID(ctx context.Context) (string, bool, error)
	SaveTwitchChannelID(ctx context.Context, channel string) error
}

type ReauthSource interface {
	GetReauthNeeded(ctx context.Context) (bool, error)
}

type NotificationLister interface {
	List(ctx context.Context, limit int) ([]*domain.Notification, error)
}

type Config struct {
	Addr          string
	ClientID      string
	Chat          ChatController
	Credentials   CredentialStore
	Settings      ReauthSource
	Notifications NotificationLister
	Bus           *events.Bus

	// Commands lists the registered chat commands in dispatch order.
	Commands func() []commands.CommandDescriptor
	// Preview runs chat text through the dispatcher without sending anything.
	Preview func(text string) (string, bool)
	// NowPlaying returns the current song, "" when nothing plays.
	NowPlaying func() string
}

func (c *Config) addr() string {
	if c == nil || c.Addr == "" {
		return "127.0.0.1:8080"
	}
	return c.Addr
}

type apiHandlers struct {
	cfg Config
	log *logrus.Entry
}

func newAPIHandlers(cfg Config, log *logrus.Entry) *apiHandlers {
	return &apiHandlers{cfg: cfg, log: log}
}

func (a *apiHandlers) register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", a.withAuth(a.handleStatus))
	mux.HandleFunc("/api/commands", a.withAuth(a.handleCommands))
	mux.HandleFunc("/api/channel/join", a.withAuth(a.handleJoin))
	mux.HandleFunc("/api/channel/leave", a.withAuth(a.handleLeave))
	mux.HandleFunc("/api/notifications", a.withAuth(a.handleNotifications))
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
}

// authorized accepts "Authorization: Bearer <token>" or ?token=. When no
// control token is stored every request passes.
func (a *apiHandlers) authorized(r *http.Request) (bool, error) {
	if a.cfg.Credentials == nil {
		return true, nil
	}
	want, ok, err := a.cfg.Credentials.LoadToken(r.Context())
	if err != nil {
		return false, err
	}
	if !ok || want == "" {
		return true, nil
	}

	got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if got == "" {
		got = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1, nil
}

func (a *apiHandlers) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		ok, err := a.authorized(r)
		if err != nil {
			a.log.WithError(err).Error("could not load control token")
			writeError(w, http.StatusInternalServerError, "secret store unavailable")
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

type statusResponse struct {
	State              string `json:"state"`
	Channel            string `json:"channel,omitempty"`
	SavedChannel       string `json:"saved_channel,omitempty"`
	Username           string `json:"username,omitempty"`
	HasToken           bool   `json:"has_token"`
	ReauthNeeded       bool   `json:"reauth_needed"`
	CommandsEnabled    bool   `json:"commands_enabled"`
	ClientIDConfigured bool   `json:"client_id_configured"`
	NowPlaying         string `json:"now_playing,omitempty"`
}

func (a *apiHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	resp := statusResponse{
		State:              domain.StateDisconnected.String(),
		ClientIDConfigured: strings.TrimSpace(a.cfg.ClientID) != "",
	}
	if chat := a.cfg.Chat; chat != nil {
		resp.State = chat.State().String()
		resp.Channel = chat.Channel()
		resp.CommandsEnabled = chat.CommandsEnabled()
	}
	if creds := a.cfg.Credentials; creds != nil {
		token, _, err := creds.LoadTwitchToken(ctx)
		if err != nil {
			a.log.WithError(err).Warn("status: load token")
		}
		resp.HasToken = token != ""
		resp.Username, _, _ = creds.LoadTwitchUsername(ctx)
		resp.SavedChannel, _, _ = creds.LoadTwitchChannelID(ctx)
	}
	if a.cfg.Settings != nil {
		needed, err := a.cfg.Settings.GetReauthNeeded(ctx)
		if err != nil {
			a.log.WithError(err).Warn("status: load reauth flag")
		}
		resp.ReauthNeeded = needed
	}
	if a.cfg.NowPlaying != nil {
		resp.NowPlaying = a.cfg.NowPlaying()
	}

	writeJSON(w, http.StatusOK, resp)
}

type commandsResponse struct {
	Enabled  bool                         `json:"enabled"`
	Commands []commands.CommandDescriptor `json:"commands"`
}

type commandsToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (a *apiHandlers) handleCommands(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Chat == nil {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		defer r.Body.Close()
		var req commandsToggleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		if err := a.cfg.Chat.SetCommandsEnabled(r.Context(), *req.Enabled); err != nil {
			a.log.WithError(err).Error("commands toggle")
			writeError(w, http.StatusInternalServerError, "could not save setting")
			return
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := commandsResponse{Enabled: a.cfg.Chat.CommandsEnabled(), Commands: []commands.CommandDescriptor{}}
	if a.cfg.Commands != nil {
		resp.Commands = a.cfg.Commands()
	}
	writeJSON(w, http.StatusOK, resp)
}

type joinRequest struct {
	Channel string `json:"channel"`
}

func (a *apiHandlers) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.cfg.Chat == nil || a.cfg.Credentials == nil {
		writeError(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}
	ctx := r.Context()

	defer r.Body.Close()
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		saved, _, err := a.cfg.Credentials.LoadTwitchChannelID(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "secret store unavailable")
			return
		}
		channel = saved
	}
	if channel == "" {
		writeError(w, http.StatusBadRequest, "missing channel")
		return
	}

	token, _, err := a.cfg.Credentials.LoadTwitchToken(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "secret store unavailable")
		return
	}

	if err := a.cfg.Chat.ConnectToChannel(ctx, channel, token, a.cfg.ClientID); err != nil {
		status := joinErrorStatus(err)
		a.log.WithError(err).WithField("channel", channel).Warn("join failed")
		writeError(w, status, err.Error())
		return
	}
	if err := a.cfg.Credentials.SaveTwitchChannelID(ctx, channel); err != nil {
		a.log.WithError(err).Warn("could not remember channel")
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"channel": a.cfg.Chat.Channel(),
		"state":   a.cfg.Chat.State().String(),
	})
}

func joinErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAuth):
		return http.StatusPreconditionRequired
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (a *apiHandlers) handleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.cfg.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}
	if err := a.cfg.Chat.LeaveChannel(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiHandlers) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.cfg.Notifications == nil {
		writeJSON(w, http.StatusOK, []events.NotificationDTO{})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := a.cfg.Notifications.List(r.Context(), limit)
	if err != nil {
		a.log.WithError(err).Error("list notifications")
		writeError(w, http.StatusInternalServerError, "could not load notifications")
		return
	}
	out := make([]events.NotificationDTO, 0, len(list))
	for _, n := range list {
		out = append(out, events.NewNotificationDTO(n))
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
