package bypass

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
)

// Response is the part of an HTTP exchange the detectors look at.
type Response struct {
	// URL is the final URL after redirects.
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector reports whether a search engine answered with a challenge or
// interstitial instead of a result page.
type Detector func(res *Response) (detected bool, source string)

// DefaultDetectors returns the detectors for the engines scour queries.
func DefaultDetectors() []Detector {
	return []Detector{
		detectGoogleSorry,
		detectGoogleConsent,
		detectBingChallenge,
		detectCloudflare,
		detectRateLimited,
	}
}

// Analyze returns the first matching detector's source, or "" if the page
// looks like a normal response.
func Analyze(res *Response, detectors []Detector) (bool, string) {
	if res == nil {
		return false, ""
	}
	for _, d := range detectors {
		if detected, source := d(res); detected {
			return true, source
		}
	}
	return false, ""
}

func host(res *Response) string {
	if res.URL == nil {
		return ""
	}
	return strings.ToLower(res.URL.Hostname())
}

// detectGoogleSorry catches the "unusual traffic" CAPTCHA interstitial.
func detectGoogleSorry(res *Response) (bool, string) {
	if res.URL != nil && strings.HasPrefix(res.URL.Path, "/sorry/") {
		return true, "GoogleCaptcha"
	}
	if bytes.Contains(res.Body, []byte("Our systems have detected unusual traffic")) ||
		(bytes.Contains(res.Body, []byte("g-recaptcha")) && bytes.Contains(res.Body, []byte("/sorry/"))) {
		return true, "GoogleCaptcha"
	}
	return false, ""
}

// detectGoogleConsent catches the EU cookie consent wall.
func detectGoogleConsent(res *Response) (bool, string) {
	if host(res) == "consent.google.com" {
		return true, "GoogleConsent"
	}
	if bytes.Contains(res.Body, []byte(`action="https://consent.google.com`)) {
		return true, "GoogleConsent"
	}
	return false, ""
}

// detectBingChallenge catches Bing's bot verification page.
func detectBingChallenge(res *Response) (bool, string) {
	if res.URL != nil && strings.HasPrefix(res.URL.Path, "/challenge/") {
		return true, "BingChallenge"
	}
	if bytes.Contains(res.Body, []byte(`id="b_captcha"`)) || bytes.Contains(res.Body, []byte("/challenge/verify")) {
		return true, "BingChallenge"
	}
	return false, ""
}

// detectCloudflare looks for common Cloudflare challenge/block signatures.
func detectCloudflare(res *Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden && res.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if strings.Contains(strings.ToLower(res.Header.Get("Server")), "cloudflare") {
		return true, "Cloudflare"
	}
	if bytes.Contains(res.Body, []byte("cf-browser-verification")) ||
		bytes.Contains(res.Body, []byte("cf-turnstile")) ||
		bytes.Contains(res.Body, []byte("Attention Required! | Cloudflare")) {
		return true, "Cloudflare"
	}
	return false, ""
}

// detectRateLimited treats a bare 429 as a block.
func detectRateLimited(res *Response) (bool, string) {
	if res.StatusCode == http.StatusTooManyRequests {
		return true, "RateLimited"
	}
	return false, ""
}
