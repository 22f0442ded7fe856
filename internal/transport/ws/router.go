package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chartlens-server-go/internal/platform/logging"
	"chartlens-server-go/internal/platform/observability"
)

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	AllowedOrigins   []string
	Session          SessionOptions
}

// Router upgrades HTTP connections to feed sessions.
type Router struct {
	hub      *Hub
	logger   *logging.Logger
	upgrader *websocket.Upgrader
	session  SessionOptions
	baseCtx  context.Context
}

// NewRouter constructs a websocket router. Sessions are children of ctx and
// end when it is cancelled.
func NewRouter(ctx context.Context, hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return &Router{
		hub:    hub,
		logger: logger,
		upgrader: &websocket.Upgrader{
			HandshakeTimeout: timeout,
			CheckOrigin:      originChecker(opts.AllowedOrigins),
		},
		session: opts.Session,
		baseCtx: ctx,
	}
}

// Handle upgrades the HTTP connection and launches a new session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	spanCtx, spanEnd := observability.StartSpan(req.Context(), "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	socket, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.upgrade.error", 1, map[string]string{
			"component": "transport.websocket",
		})
		r.logger.WarnTag("WS", "upgrade failed: %v", err)
		return
	}

	clientID := resolveClientID(req)
	conn := NewConnection(clientID, socket)
	session := NewSession(r.baseCtx, conn, r.session, r.logger)
	r.hub.Register(session)

	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1, map[string]string{
		"component": "transport.websocket",
	})
	r.logger.InfoTag("WS", "feed subscriber connected id=%s remote=%s", clientID, req.RemoteAddr)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil {
			r.logger.WarnTag("WS", "session %s ended: %v", session.ID(), runErr)
		} else {
			r.logger.InfoTag("WS", "feed subscriber left id=%s dropped=%d", session.ID(), session.Dropped())
		}
		observability.RecordMetric(context.Background(), "websocket.connection.closed", 1, map[string]string{
			"component": "transport.websocket",
		})
	})
}

func resolveClientID(req *http.Request) string {
	clientID := req.Header.Get("Client-Id")
	if clientID == "" {
		clientID = req.URL.Query().Get("client-id")
	}
	// Suffix keeps ids unique when a client opens several tabs.
	suffix := uuid.NewString()[:8]
	if clientID == "" {
		return suffix
	}
	return clientID + "-" + suffix
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
