package fingerprint

import (
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestTransport_Profiles(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	for _, p := range Profiles() {
		t.Run(string(p), func(t *testing.T) {
			rt, err := Transport(p, Options{InsecureSkipVerify: true})
			if err != nil {
				t.Fatalf("unexpected error creating transport for %s: %v", p, err)
			}

			tr, ok := rt.(*http.Transport)
			if !ok {
				t.Fatalf("expected *http.Transport, got %T", rt)
			}
			if p != ProfileGo && tr.DialTLSContext == nil {
				t.Fatalf("expected DialTLSContext for uTLS profile %s", p)
			}

			client := &http.Client{Transport: tr}
			resp, err := client.Get(ts.URL)
			if err != nil {
				t.Fatalf("request failed for profile %s: %v", p, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 OK, got %d for profile %s", resp.StatusCode, p)
			}
			if resp.ProtoMajor != 1 {
				t.Errorf("expected HTTP/1.x, got %s", resp.Proto)
			}
		})
	}
}

func TestTransport_ProxyTunnel(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))
	var connects int32
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			http.Error(w, "CONNECT only", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Proxy-Authorization") != wantAuth {
			http.Error(w, "auth required", http.StatusProxyAuthRequired)
			return
		}
		atomic.AddInt32(&connects, 1)
		upstream, err := net.Dial("tcp", r.Host)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			upstream.Close()
			return
		}
		_, _ = conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
		go func() {
			_, _ = io.Copy(upstream, buf.Reader)
			upstream.Close()
		}()
		_, _ = io.Copy(conn, upstream)
		conn.Close()
	}))
	defer proxyServer.Close()

	proxyURL, _ := url.Parse(proxyServer.URL)
	for _, p := range []Profile{ProfileChrome, ProfileSafari, ProfileRandom} {
		t.Run(string(p), func(t *testing.T) {
			before := atomic.LoadInt32(&connects)
			withAuth := *proxyURL
			withAuth.User = url.UserPassword("alice", "s3cret")
			rt, err := Transport(p, Options{
				Proxy:              http.ProxyURL(&withAuth),
				InsecureSkipVerify: true,
			})
			if err != nil {
				t.Fatalf("unexpected error creating transport for %s: %v", p, err)
			}

			resp, err := (&http.Client{Transport: rt}).Get(ts.URL)
			if err != nil {
				t.Fatalf("request through proxy failed for profile %s: %v", p, err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 OK, got %d", resp.StatusCode)
			}
			if atomic.LoadInt32(&connects) == before {
				t.Errorf("expected a CONNECT tunnel for profile %s", p)
			}
		})
	}

	rt, _ := Transport(ProfileChrome, Options{Proxy: http.ProxyURL(proxyURL), InsecureSkipVerify: true})
	if _, err := (&http.Client{Transport: rt}).Get(ts.URL); err == nil {
		t.Error("expected an error when the proxy rejects CONNECT")
	}
}

func TestTransport_UnknownProfile(t *testing.T) {
	_, err := Transport(Profile("unknown_browser"), Options{})
	if err == nil {
		t.Fatal("expected error for unknown profile, got nil")
	}
	if err.Error() != `fingerprint: unknown profile "unknown_browser"` {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in      string
		want    Profile
		wantErr bool
	}{
		{in: "", want: ProfileSafari},
		{in: "Chrome", want: ProfileChrome},
		{in: " go ", want: ProfileGo},
		{in: "random", want: ProfileRandom},
		{in: "netscape", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseProfile(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseProfile(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseProfile(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
