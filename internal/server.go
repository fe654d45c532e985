package internal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"boardlive/internal/storage"
)

var errUnauthorized = errors.New("unauthorized")

// Config carries the server knobs that are not part of the hub.
type Config struct {
	Hub            HubConfig
	TokenTTL       time.Duration
	ArchiveQueue   int
	AllowedOrigins []string
	AuthRateLimit  int
	AuthRateWindow time.Duration
	// SweepInterval is how often expired sessions are purged; zero disables it.
	SweepInterval time.Duration
	TrustProxy    bool
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.ArchiveQueue <= 0 {
		c.ArchiveQueue = 1024
	}
	if c.AuthRateLimit == 0 {
		c.AuthRateLimit = 10
	}
	if c.AuthRateWindow <= 0 {
		c.AuthRateWindow = time.Minute
	}
	return c
}

// Server ties the hub to the SQLite collaborators and exposes the HTTP handlers.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	store       *storage.Store
	directory   UserDirectory
	hub         *Hub
	archivist   *Archivist
	metrics     *Metrics
	upgrader    *websocket.Upgrader
	authLimiter *RateLimiter
	tokenTTL    time.Duration
	trustProxy  bool
	log         *zap.Logger
	now         func() time.Time

	closeOnce sync.Once
	sweepDone chan struct{}
}

func NewServer(store *storage.Store, cfg Config, log *zap.Logger) *Server {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	collaborators := NewStoreCollaborators(store)
	archivist := NewArchivist(collaborators, cfg.ArchiveQueue, metrics, log)
	archivist.Start()
	hub := NewHub(cfg.Hub, NewAuthGate(collaborators, log.Named("auth")), archivist, metrics, log)

	s := &Server{
		ctx:         ctx,
		cancel:      cancel,
		store:       store,
		directory:   collaborators,
		hub:         hub,
		archivist:   archivist,
		metrics:     metrics,
		upgrader:    newUpgrader(cfg.AllowedOrigins),
		authLimiter: NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow),
		tokenTTL:    cfg.TokenTTL,
		trustProxy:  cfg.TrustProxy,
		log:         log,
		now:         time.Now,
		sweepDone:   make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go s.sweepSessions(cfg.SweepInterval)
	} else {
		close(s.sweepDone)
	}
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// ServeWS is the websocket join endpoint.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ServeWS(s.ctx, s.hub, s.upgrader, w, r)
}

// Close drops every connection and flushes the archive queue. The store is left
// open for the caller to close.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.sweepDone
		s.hub.CloseAll()
		s.archivist.Stop()
	})
}

func (s *Server) sweepSessions(interval time.Duration) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.DeleteExpiredSessions(s.ctx, s.now())
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Warn("sweep expired sessions", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				s.log.Debug("swept expired sessions", zap.Int64("count", n))
			}
		}
	}
}

type authContext struct {
	Token string
	User  *storage.User
}

// authenticateRequest resolves the bearer token of an HTTP request.
func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, errUnauthorized
	}
	user, err := s.store.UserForToken(r.Context(), token, s.now())
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{Token: token, User: user}, nil
}

func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
