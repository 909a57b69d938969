package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"coinsafe/pkg/account"
	"coinsafe/pkg/metrics"
	"coinsafe/pkg/models"
	"coinsafe/pkg/store"
	"coinsafe/pkg/watcher"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultHost keeps the API on the loopback interface.
const DefaultHost = "127.0.0.1"

var upgrader = websocket.Upgrader{
	CheckOrigin: isLocalOrigin,
}

// Backend is the part of the wallet backend the API forwards to.
type Backend interface {
	account.Backend
	PaymentHistory(ctx context.Context, address string) ([]models.Payment, error)
	Transfer(ctx context.Context, req models.TransferRequest) (models.TransferResult, error)
	Deposit(ctx context.Context, req models.DepositRequest) (models.DepositResult, error)
	Withdraw(ctx context.Context, req models.WithdrawRequest) (models.WithdrawResult, error)
}

// Message is what websocket clients receive.
type Message struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	Data any    `json:"data"`
}

type Server struct {
	watcher *watcher.Watcher
	backend Backend
	metrics *metrics.Metrics
	log     zerolog.Logger
	host    string
	token   string

	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	router  chi.Router
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHost sets the listen address. Anything but loopback exposes the API to the network.
func WithHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithToken sets the token required by state-changing requests. A random one is
// generated when none is given.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

func NewServer(w *watcher.Watcher, backend Backend, opts ...Option) *Server {
	s := &Server{
		watcher: w,
		backend: backend,
		log:     zerolog.Nop(),
		host:    DefaultHost,
		clients: make(map[*websocket.Conn]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.token == "" {
		s.token = uuid.NewString()
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, middleware.RequestID, s.requestLogger, s.localOnly)

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/payments", s.handlePayments)
	r.Get("/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(requireJSON, s.requireToken)
		r.Post("/api/refresh", s.handleRefresh)
		r.Post("/api/network", s.handleNetwork)
		r.Post("/api/logout", s.handleLogout)
		r.Post("/api/wallet/restore", s.handleRestore)
		r.Post("/api/wallet/create", s.handleCreate)
		r.Post("/api/login", s.handleLogin)
		r.Post("/api/transfer", s.handleTransfer)
		r.Post("/api/deposit", s.handleDeposit)
		r.Post("/api/withdraw", s.handleWithdraw)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	s.router = r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Token is the bearer token POST requests must carry.
func (s *Server) Token() string {
	return s.token
}

// Start serves on port until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.listenToStore(ctx, s.watcher.Store().Subscribe())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if !isLoopbackHost(s.host) {
		s.log.Warn().Str("host", s.host).Msg("API server is reachable from the network")
	}
	s.log.Info().Str("addr", addr).Msg("API server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("dur", time.Since(start)).
			Msg("http")
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	s.mu.Lock()
	s.clients[conn] = true
	// Send initial state
	err = conn.WriteJSON(Message{Type: "initial", Data: s.watcher.Status()})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()
	if err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// listenToStore relays store events to websocket clients until ctx ends.
func (s *Server) listenToStore(ctx context.Context, sub store.Subscriber) {
	defer s.watcher.Store().Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if msg, publish := outbound(event); publish {
				s.broadcast(msg)
			}
		}
	}
}

// outbound turns a store event into a client message, hiding secrets.
func outbound(event store.Event) (Message, bool) {
	switch event.Key {
	case store.KeyCredentials, store.KeyWatermarks:
		return Message{}, false
	case store.KeyWallet:
		if wl, ok := event.Value.(models.Wallet); ok {
			return Message{Type: "update", Key: event.Key, Data: watcher.PublicWallet(wl)}, true
		}
	}
	return Message{Type: "update", Key: event.Key, Data: event.Value}, true
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		if err := client.WriteJSON(msg); err != nil {
			_ = client.Close()
			delete(s.clients, client)
		}
	}
}
