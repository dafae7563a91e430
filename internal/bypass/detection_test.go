package bypass

import (
	"net/http"
	"net/url"
	"testing"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("bad url %q: %v", raw, err)
	}
	return u
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name   string
		res    *Response
		want   bool
		source string
	}{
		{
			name: "normal google results",
			res: &Response{
				URL:        mustURL(t, "https://www.google.com/search?q=cats&tbm=isch"),
				StatusCode: 200,
				Body:       []byte(`<html><img data-src="https://img/1"></html>`),
			},
		},
		{
			name: "google sorry redirect",
			res: &Response{
				URL:        mustURL(t, "https://www.google.com/sorry/index?continue=x"),
				StatusCode: 429,
			},
			want:   true,
			source: "GoogleCaptcha",
		},
		{
			name: "google unusual traffic body",
			res: &Response{
				URL:        mustURL(t, "https://www.google.com/search?q=x"),
				StatusCode: 200,
				Body:       []byte("<p>Our systems have detected unusual traffic from your computer network.</p>"),
			},
			want:   true,
			source: "GoogleCaptcha",
		},
		{
			name: "google consent wall",
			res: &Response{
				URL:        mustURL(t, "https://consent.google.com/ml?continue=x"),
				StatusCode: 200,
			},
			want:   true,
			source: "GoogleConsent",
		},
		{
			name: "bing challenge",
			res: &Response{
				URL:        mustURL(t, "https://www.bing.com/search?q=x"),
				StatusCode: 200,
				Body:       []byte(`<div id="b_captcha"></div>`),
			},
			want:   true,
			source: "BingChallenge",
		},
		{
			name: "cloudflare by header",
			res: &Response{
				StatusCode: 403,
				Header:     http.Header{"Server": {"cloudflare"}},
			},
			want:   true,
			source: "Cloudflare",
		},
		{
			name: "cloudflare header on 200 is ignored",
			res: &Response{
				StatusCode: 200,
				Header:     http.Header{"Server": {"cloudflare"}},
			},
		},
		{
			name:   "plain 429",
			res:    &Response{StatusCode: 429},
			want:   true,
			source: "RateLimited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, src := Analyze(tt.res, DefaultDetectors())
			if got != tt.want || src != tt.source {
				t.Errorf("Analyze() = %v, %q; want %v, %q", got, src, tt.want, tt.source)
			}
		})
	}
}

func TestAnalyze_Nil(t *testing.T) {
	if got, _ := Analyze(nil, DefaultDetectors()); got {
		t.Errorf("expected nil response to be undetected")
	}
}
