package fingerprint

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// tunnelTransport sends proxied https requests through a CONNECT tunnel
// that it opens itself, so the uTLS handshake runs inside the tunnel.
// Plain http and direct requests use base.
type tunnelTransport struct {
	base  *http.Transport
	proxy func(*http.Request) (*url.URL, error)
	hs    *handshaker

	mu      sync.Mutex
	tunnels map[string]*http.Transport
}

func (t *tunnelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.base.RoundTrip(req)
	}
	proxyURL, err := t.proxy(req)
	if err != nil {
		return nil, err
	}
	if proxyURL == nil {
		return t.base.RoundTrip(req)
	}
	return t.via(proxyURL).RoundTrip(req)
}

// via returns the transport that tunnels through proxyURL, one per proxy so
// idle tunnels are reused for the same proxy only.
func (t *tunnelTransport) via(proxyURL *url.URL) *http.Transport {
	key := proxyURL.String()

	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.tunnels[key]; ok {
		return tr
	}

	tr := t.base.Clone()
	tr.Proxy = nil
	dial := t.base.DialContext
	tr.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := connect(ctx, dial, proxyURL, addr)
		if err != nil {
			return nil, err
		}
		return t.hs.client(ctx, conn, addr)
	}
	t.tunnels[key] = tr
	return tr
}

func (t *tunnelTransport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range t.tunnels {
		tr.CloseIdleConnections()
	}
}

// connect dials proxyURL and asks it for a tunnel to addr. The returned
// conn carries raw bytes to addr.
func connect(ctx context.Context, dial func(ctx context.Context, network, addr string) (net.Conn, error), proxyURL *url.URL, addr string) (net.Conn, error) {
	conn, err := dial(ctx, "tcp", proxyAddr(proxyURL))
	if err != nil {
		return nil, fmt.Errorf("fingerprint: dial proxy %s: %w", proxyURL.Redacted(), err)
	}
	if proxyURL.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: proxyURL.Hostname()})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("fingerprint: proxy tls handshake: %w", err)
		}
		conn = tlsConn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if u := proxyURL.User; u != nil {
		pass, _ := u.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + pass))
		req.Header.Set("Proxy-Authorization", "Basic "+cred)
	}
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("fingerprint: write CONNECT: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("fingerprint: read CONNECT response: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("fingerprint: proxy refused CONNECT %s: %s", addr, resp.Status)
	}
	// The server speaks only after our ClientHello.
	if br.Buffered() > 0 {
		_ = conn.Close()
		return nil, errors.New("fingerprint: proxy sent data before tls handshake")
	}
	return conn, nil
}

func proxyAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
