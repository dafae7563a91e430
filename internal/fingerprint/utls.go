package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile represents a recognized TLS fingerprint profile.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard go TLS
	ProfileRandom  Profile = "random" // randomized uTLS profile
)

// Profiles lists every supported profile.
func Profiles() []Profile {
	return []Profile{ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom}
}

// ParseProfile maps a config string to a Profile. Empty selects Safari,
// matching the default mobile User-Agent set.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return ProfileSafari, nil
	}
	for _, known := range Profiles() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("fingerprint: unknown profile %q", s)
}

// Options tune the transport returned by Transport.
type Options struct {
	// Proxy picks the proxy for each request. https requests are tunneled
	// with CONNECT and keep the profile's ClientHello.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
}

func helloID(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		// NoALPN keeps the server on http/1.1, see presetSpec.
		return utls.HelloRandomizedNoALPN, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("fingerprint: unknown profile %q", p)
	}
}

// Transport returns an http.RoundTripper that presents the TLS ClientHello of
// profile p. ProfileGo returns a plain clone of http.DefaultTransport.
func Transport(p Profile, opts Options) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		transport.Proxy = opts.Proxy
	}

	if p == ProfileGo {
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		return transport, nil
	}

	id, err := helloID(p)
	if err != nil {
		return nil, err
	}

	if _, err := presetSpec(p, id); err != nil {
		return nil, err
	}

	h := &handshaker{profile: p, id: id, insecure: opts.InsecureSkipVerify}
	dial := transport.DialContext
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return h.client(ctx, tcpConn, addr)
	}

	if opts.Proxy == nil {
		return transport, nil
	}
	// net/http runs its own crypto/tls handshake inside CONNECT tunnels and
	// never calls DialTLSContext, so proxied https goes through tunnels.
	return &tunnelTransport{
		base:    transport,
		proxy:   opts.Proxy,
		hs:      h,
		tunnels: make(map[string]*http.Transport),
	}, nil
}

// handshaker wraps established connections in a uTLS client presenting one
// profile's ClientHello.
type handshaker struct {
	profile  Profile
	id       utls.ClientHelloID
	insecure bool
}

// client runs the uTLS handshake over conn for addr. conn is closed on
// failure.
func (h *handshaker) client(ctx context.Context, conn net.Conn, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	cfg := &utls.Config{ServerName: host, InsecureSkipVerify: h.insecure}

	var uConn *utls.UConn
	spec, _ := presetSpec(h.profile, h.id)
	if spec != nil {
		uConn = utls.UClient(conn, cfg, utls.HelloCustom)
		if err := uConn.ApplyPreset(spec); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("fingerprint: apply %s preset: %w", h.profile, err)
		}
	} else {
		uConn = utls.UClient(conn, cfg, h.id)
	}

	if err := uConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("fingerprint: utls handshake failed: %w", err)
	}
	return uConn, nil
}

// presetSpec builds a fresh ClientHelloSpec for p with ALPN pinned to
// http/1.1, since http.Transport cannot speak h2 over a custom dialer.
// Specs carry per-handshake state and must not be shared between conns.
// The randomized profile returns nil and is used as-is.
func presetSpec(p Profile, id utls.ClientHelloID) (*utls.ClientHelloSpec, error) {
	if p == ProfileRandom {
		return nil, nil
	}
	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %s spec: %w", p, err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return &spec, nil
}
