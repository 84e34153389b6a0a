// Package ws is the local control surface: a WebSocket event feed plus a
// small JSON API.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"songBot/internal/app/events"
	"songBot/internal/infrastructure/logging"
)

const writeTimeout = 5 * time.Second

// Server relays bus events to every WebSocket client.
type Server struct {
	addr     string
	upgrader websocket.Upgrader
	bus      *events.Bus
	preview  func(text string) (string, bool)
	log      *logrus.Entry

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	api *apiHandlers
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// Envelope is every frame the server writes.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewServer(cfg Config) *Server {
	log := logging.GetLogger(logging.WebModule)
	return &Server{
		addr: cfg.addr(),
		upgrader: websocket.Upgrader{
			// Only loopback clients are expected; the control token guards the rest.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		bus:     cfg.Bus,
		preview: cfg.Preview,
		log:     log,
		clients: make(map[*wsClient]struct{}),
		api:     newAPIHandlers(cfg, log),
	}
}

// Handler builds the HTTP routes.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())
	s.api.register(mux)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.bus != nil {
		go s.forward(ctx)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Warn("shutdown error")
		}
		s.closeClients()
	}()

	s.log.WithField("addr", s.addr).Info("control surface listening")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// forward copies every bus topic to the connected clients.
func (s *Server) forward(ctx context.Context) {
	type item struct {
		topic   string
		payload any
	}
	merged := make(chan item, 64)

	var wg sync.WaitGroup
	for _, topic := range events.Topics {
		ch, unsubscribe := s.bus.Subscribe(topic)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- item{topic, payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for it := range merged {
		s.Broadcast(Envelope{Type: it.topic, Data: it.payload})
	}
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ok, err := s.api.authorized(r)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("upgrade error")
		return
	}

	client := &wsClient{id: uuid.NewString(), conn: conn}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	clientCount := len(s.clients)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"client":  client.id,
		"remote":  r.RemoteAddr,
		"clients": clientCount,
	}).Info("client connected")

	_ = client.writeJSON(Envelope{Type: "hello", Data: map[string]string{"client_id": client.id}})
	go s.handleClient(ctx, client)
}

func (s *Server) handleClient(ctx context.Context, client *wsClient) {
	defer s.drop(client)

	for {
		if ctx.Err() != nil {
			return
		}

		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).WithField("client", client.id).Debug("read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		s.handleIncoming(client, data)
	}
}

type incomingPayload struct {
	Text string `json:"text"`
}

type previewResult struct {
	Text     string `json:"text"`
	Response string `json:"response"`
	Matched  bool   `json:"matched"`
}

// handleIncoming runs chat text through the dispatcher and answers only the
// sender, so commands can be tried without touching Twitch.
func (s *Server) handleIncoming(client *wsClient, data []byte) {
	if s.preview == nil {
		return
	}

	payload := incomingPayload{}
	if err := json.Unmarshal(data, &payload); err != nil {
		payload.Text = string(data)
	}
	payload.Text = strings.TrimSpace(payload.Text)
	if payload.Text == "" {
		return
	}

	response, ok := s.preview(payload.Text)
	if err := client.writeJSON(Envelope{
		Type: "command:preview",
		Data: previewResult{Text: payload.Text, Response: response, Matched: ok},
	}); err != nil {
		s.log.WithError(err).WithField("client", client.id).Debug("preview write failed")
	}
}

// Broadcast writes v to every client, dropping the ones that fail.
func (s *Server) Broadcast(v any) {
	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(v); err != nil {
			s.log.WithError(err).WithField("client", c.id).Debug("removing client after write error")
			s.drop(c)
		}
	}
}

func (s *Server) drop(client *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[client]
	delete(s.clients, client)
	clientCount := len(s.clients)
	s.mu.Unlock()

	_ = client.conn.Close()
	if ok {
		s.log.WithFields(logrus.Fields{"client": client.id, "clients": clientCount}).Info("client disconnected")
	}
}

func (s *Server) closeClients() {
	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	for _, c := range clients {
		s.drop(c)
	}
}

// ClientCount is the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
