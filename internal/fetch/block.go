package fetch

import (
	"net/http"
	"strings"
)

// BlockType names the anti-bot measure a response showed.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js-shell"
)

// DetectBlock reports whether an HTML response is a challenge or script
// shell rather than the page itself.
func DetectBlock(status int, header http.Header, body []byte) BlockType {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || strings.EqualFold(header.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	switch {
	case strings.Contains(lower, "checking your browser"),
		strings.Contains(lower, "cf-browser-verification"),
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge"):
		return BlockCloudflare
	case strings.Contains(lower, "g-recaptcha"), strings.Contains(lower, "h-captcha"),
		strings.Contains(lower, "please complete the captcha"):
		return BlockCaptcha
	}

	// Script-only shells are tiny and tell the reader to enable JavaScript.
	if len(body) < 2000 && strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
		return BlockJSShell
	}
	return BlockNone
}
