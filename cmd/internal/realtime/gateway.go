package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"secretwall/cmd/identity"
)

const (
	SubprotocolV1 = "secretwall.wall.v1"

	maxFrameBytes   = 4 << 10
	maxPingFailures = 3
	closeGrace      = time.Second
)

// Viewer resolves the account behind an upgrade request.
type Viewer func(r *http.Request) (accountID string, ok bool)

// Gateway upgrades authenticated requests and streams wall events.
type Gateway struct {
	log    *slog.Logger
	hub    *Hub
	cfg    GatewayConfig
	viewer Viewer

	originPatterns []string
}

func NewGateway(log *slog.Logger, hub *Hub, cfg GatewayConfig, viewer Viewer) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		log:            log,
		hub:            hub,
		cfg:            cfg,
		viewer:         viewer,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID, ok := g.viewer(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{SubprotocolV1},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Warn("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != SubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", SubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	clientID, err := identity.NewULID(now)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(clientID, accountID, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(clientID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// ready goes first into the empty queue, before any broadcast can reach it.
	ready, err := newEnvelope(TypeReady, clientID, now, ReadyPayload{Watchers: g.hub.Count() + 1})
	if err == nil {
		enqueue(client, ready)
	}
	g.hub.Join(client)
	g.log.Info("ws.open", "client_id", clientID, "account_id", accountID)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		g.readLoop(ctx, conn, client, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	for {
		select {
		case <-ctx.Done():
			shutdown(websocket.StatusNormalClosure, "bye")
		case <-client.Done():
			shutdown(websocket.StatusNormalClosure, "bye")
		case env := <-client.Send:
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				g.log.Info("ws.write.fail", "client_id", clientID, "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
			}
			continue
		}
		break
	}

	for _, done := range []chan struct{}{readDone, heartbeatDone} {
		select {
		case <-done:
		case <-time.After(closeGrace):
		}
	}
	g.log.Info("ws.close", "client_id", clientID)
}

// readLoop drains the peer. The feed is server-push only, so any data frame
// is a policy violation; a read error ends the session.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	_, _, err := conn.Read(ctx)
	if err == nil {
		g.log.Info("ws.read.unexpected", "client_id", client.ID)
		shutdown(websocket.StatusPolicyViolation, "server push only")
		return
	}

	switch {
	case websocket.CloseStatus(err) != -1:
		g.log.Debug("ws.read.closed", "client_id", client.ID, "close_status", websocket.CloseStatus(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		g.log.Info("ws.read.fail", "client_id", client.ID, "err", err)
	}
	shutdown(websocket.StatusNormalClosure, "bye")
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err == nil {
				failures = 0
				continue
			}
			failures++
			g.log.Info("ws.ping.fail", "client_id", client.ID, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

// enqueue offers env to the client without blocking.
func enqueue(client *Client, env Envelope) bool {
	select {
	case <-client.Done():
		return false
	default:
	}

	select {
	case client.Send <- env:
		return true
	default:
		return false
	}
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// enforceOrigin admits same-host origins and the configured allowlist.
func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("malformed origin: %s", origin)
	}
	if strings.EqualFold(u.Host, r.Host) {
		return nil
	}

	host := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "*" || strings.EqualFold(a, origin) || (host != "" && host == originHostOnly(a)) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the allowlist.
// Accept matches against host[:port], so every host also gets a ":*" form.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed)*2)
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
		if h != "*" {
			seen[h+":*"] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
