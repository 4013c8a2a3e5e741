// Package main is a CI-friendly smoke test against a running secretwall.
//
// It validates:
//   - register (or login) of two browser sessions
//   - gated live feed handshake + subprotocol selection
//   - submit -> secret.new fanout to the other viewer
//   - the wall page lists the secret
//   - logout closes the gate again
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"secretwall/cmd/internal/realtime"
)

const maxReadBytes = 1 << 20

type browser struct {
	name   string
	base   *url.URL
	client *http.Client
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:3000", "secretwall base URL")
		pass    = flag.String("password", "smoke-test-password", "Password for the smoke accounts")
		secret  = flag.String("secret", "", "Secret to submit (default: timestamped)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := url.Parse(*baseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		fatalf("invalid -url: %q", *baseURL)
	}

	stamp := time.Now().UnixNano()
	if *secret == "" {
		*secret = fmt.Sprintf("smoke secret %d", stamp)
	}

	a := newBrowser("A", base, *timeout)
	b := newBrowser("B", base, *timeout)
	a.mustSignIn(fmt.Sprintf("smoke-a-%d@example.test", stamp), *pass)
	b.mustSignIn(fmt.Sprintf("smoke-b-%d@example.test", stamp), *pass)

	root := context.Background()
	conn := b.mustConnectLive(root, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ready := mustReadUntilType(root, conn, realtime.TypeReady, *timeout)
	if *verbose {
		fmt.Printf("live feed ready: client=%s\n", ready.ID)
	}

	a.mustSubmit(*secret)

	env := mustReadUntilType(root, conn, realtime.TypeSecretNew, *timeout)
	var p realtime.SecretPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal secret.new payload: %v", err)
	}
	if p.Secret != *secret {
		fatalf("secret.new mismatch: got=%q want=%q", p.Secret, *secret)
	}

	status, body := b.get("/secrets")
	if status != http.StatusOK || !strings.Contains(body, html.EscapeString(*secret)) {
		fatalf("wall (B): status=%d, secret listed=%v", status, strings.Contains(body, html.EscapeString(*secret)))
	}

	if status, _ := a.get("/logout"); status != http.StatusFound {
		fatalf("logout (A): status=%d", status)
	}
	if status, _ := a.get("/secrets"); status != http.StatusFound {
		fatalf("gate after logout (A): status=%d want 302", status)
	}

	fmt.Println("OK: secretwall smoke passed")
}

func newBrowser(name string, base *url.URL, timeout time.Duration) *browser {
	jar, err := cookiejar.New(nil)
	if err != nil {
		fatalf("cookie jar: %v", err)
	}
	return &browser{
		name: name,
		base: base,
		client: &http.Client{
			Jar:     jar,
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) url(path string) string {
	return b.base.ResolveReference(&url.URL{Path: path}).String()
}

func (b *browser) get(path string) (int, string) {
	res, err := b.client.Get(b.url(path))
	if err != nil {
		fatalf("GET %s (%s): %v", path, b.name, err)
	}
	defer func() { _ = res.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxReadBytes))
	return res.StatusCode, string(body)
}

func (b *browser) post(path string, form url.Values) (int, string) {
	res, err := b.client.PostForm(b.url(path), form)
	if err != nil {
		fatalf("POST %s (%s): %v", path, b.name, err)
	}
	defer func() { _ = res.Body.Close() }()
	return res.StatusCode, res.Header.Get("Location")
}

// mustSignIn registers username, falling back to login when it already exists.
func (b *browser) mustSignIn(username, password string) {
	form := url.Values{"username": {username}, "password": {password}}

	status, loc := b.post("/register", form)
	if status == http.StatusConflict {
		status, loc = b.post("/login", form)
	}
	if status != http.StatusFound || loc != "/secrets" {
		fatalf("sign in (%s): status=%d location=%q", b.name, status, loc)
	}
}

func (b *browser) mustSubmit(secret string) {
	status, loc := b.post("/submit", url.Values{"secret": {secret}})
	if status != http.StatusFound || loc != "/secrets" {
		fatalf("submit (%s): status=%d location=%q", b.name, status, loc)
	}
}

func (b *browser) mustConnectLive(parent context.Context, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	wsURL := *b.base
	wsURL.Scheme = map[string]string{"http": "ws", "https": "wss"}[b.base.Scheme]
	wsURL.Path = "/secrets/live"

	h := http.Header{}
	h.Set("Origin", b.base.Scheme+"://"+b.base.Host)

	conn, resp, err := websocket.Dial(ctx, wsURL.String(), &websocket.DialOptions{
		Subprotocols: []string{realtime.SubprotocolV1},
		HTTPHeader:   h,
		HTTPClient:   &http.Client{Jar: b.client.Jar},
	})
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		fatalf("live dial (%s): status=%d err=%v", b.name, code, err)
	}
	if got := conn.Subprotocol(); got != realtime.SubprotocolV1 {
		fatalf("live subprotocol (%s): got=%q want=%q", b.name, got, realtime.SubprotocolV1)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustReadUntilType(parent context.Context, conn *websocket.Conn, wantType string, stepTimeout time.Duration) realtime.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			fatalf("waiting for %q: %v", wantType, err)
		}
		var env realtime.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			fatalf("decode envelope: %v", err)
		}
		if err := env.Validate(); err != nil {
			fatalf("invalid envelope: %v", err)
		}
		if env.Type == wantType {
			return env
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
