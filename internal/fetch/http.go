package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/resilience"
	"github.com/protocol-education/school-intel/pkg/jina"
)

const (
	defaultUserAgent    = "Mozilla/5.0 (compatible; school-intel/1.0)"
	defaultMaxBodyBytes = 20 << 20
	maxImageBytes       = 5 << 20
	defaultPDFMinChars  = 200
)

// HTTPOptions configures an HTTPFetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	RatePerHost  float64
	PDFMinChars  int
	Retry        resilience.RetryConfig
	PDF          TextExtractor
	// Reader, when set, renders pages that block plain HTTP clients.
	Reader jina.Client
}

// HTTPFetcher fetches URLs over HTTP with per-host rate limiting and
// retries, then classifies what came back.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters *hostLimiters
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.PDFMinChars <= 0 {
		opts.PDFMinChars = defaultPDFMinChars
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, JitterFraction: 0.25}
	}
	opts.Retry.OnRetry = resilience.RetryLogger("http", "fetch")
	if opts.PDF == nil {
		opts.PDF = NewPdfToText("")
	}
	return &HTTPFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		opts:     opts,
		limiters: newHostLimiters(opts.RatePerHost, 1),
	}
}

// FromConfig builds an HTTPFetcher from the fetch config section.
func FromConfig(cfg config.FetchConfig, reader jina.Client) *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:    cfg.UserAgent,
		Timeout:      time.Duration(cfg.TimeoutSecs) * time.Second,
		MaxBodyBytes: cfg.MaxBodyBytes,
		RatePerHost:  cfg.RatePerHost,
		PDFMinChars:  cfg.PDFTextMinChars,
		PDF:          NewPdfToText(cfg.PdfToTextPath),
		Reader:       reader,
	})
}

type response struct {
	status      int
	header      http.Header
	contentType string
	finalURL    string
	body        []byte
}

// Fetch retrieves rawURL and classifies it. All failures are *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	base, err := url.Parse(rawURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, &FetchError{URL: rawURL, Err: eris.New("not an http(s) URL")}
	}

	resp, err := resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (*response, error) {
		return f.get(ctx, rawURL)
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	if k, _ := sniff(resp.contentType, rawURL, resp.body); k == kindHTML || resp.status >= 400 {
		if block := DetectBlock(resp.status, resp.header, resp.body); block != BlockNone {
			return f.viaReader(ctx, rawURL, block)
		}
	}
	if resp.status >= 400 {
		return nil, &FetchError{URL: rawURL, Status: resp.status}
	}

	if final, err := url.Parse(resp.finalURL); err == nil {
		base = final
	}
	return f.toPage(ctx, base, resp)
}

// get performs one rate-limited GET.
func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (*response, error) {
	lim, host := f.limiters.forURL(rawURL)
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetch: rate limiter wait")
	}

	callCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,image/*;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.onThrottle(host)
	}
	fe := &FetchError{URL: rawURL, Status: resp.StatusCode}
	if fe.Retryable() {
		return nil, fe
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: eris.Wrap(err, "read body")}
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, &FetchError{URL: rawURL, Err: eris.Errorf("body larger than %d bytes", f.opts.MaxBodyBytes)}
	}
	lim.onSuccess()

	return &response{
		status:      resp.StatusCode,
		header:      resp.Header,
		contentType: resp.Header.Get("Content-Type"),
		finalURL:    resp.Request.URL.String(),
		body:        body,
	}, nil
}

func (f *HTTPFetcher) toPage(ctx context.Context, base *url.URL, resp *response) (*Page, error) {
	rawURL := base.String()
	k, mediaType := sniff(resp.contentType, rawURL, resp.body)
	unit := model.ContentUnit{URL: rawURL, MediaType: mediaType, FetchedAt: time.Now().UTC()}

	switch k {
	case kindHTML:
		if mediaType == "text/plain" {
			unit.Class = model.ClassHTML
			unit.Text = flatten(string(resp.body))
			return &Page{Unit: unit}, nil
		}
		parsed, err := parseHTML(base, resp.body)
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		unit.Class = model.ClassHTML
		unit.Title = parsed.Title
		unit.Text = parsed.Text
		if len(parsed.Emails) > 0 {
			unit.Text += "\nEmail addresses linked on this page: " + strings.Join(parsed.Emails, ", ")
		}
		return &Page{Unit: unit, Links: parsed.Links}, nil

	case kindPDF:
		text, err := f.opts.PDF.ExtractText(ctx, resp.body)
		if err != nil {
			// Without a text layer the PDF still goes to a vision tier.
			zap.L().Warn("fetch: pdf text extraction failed", zap.String("url", rawURL), zap.Error(err))
		}
		class, _ := Classify(resp.contentType, rawURL, resp.body, text, f.opts.PDFMinChars)
		unit.Class = class
		if class == model.ClassPDFText {
			unit.Text = flatten(text)
		} else {
			unit.Data = resp.body
		}
		return &Page{Unit: unit}, nil

	case kindImage:
		if len(resp.body) > maxImageBytes {
			return nil, &FetchError{URL: rawURL, Err: eris.Errorf("image larger than %d bytes", maxImageBytes)}
		}
		unit.Class = model.ClassImage
		unit.Data = resp.body
		return &Page{Unit: unit}, nil
	}
	return nil, &FetchError{URL: rawURL, Err: eris.Errorf("unsupported content type %q", mediaType)}
}

// viaReader renders a blocked page through Jina Reader.
func (f *HTTPFetcher) viaReader(ctx context.Context, rawURL string, block BlockType) (*Page, error) {
	if f.opts.Reader == nil {
		return nil, &FetchError{URL: rawURL, Err: eris.Errorf("blocked (%s)", block)}
	}
	zap.L().Info("fetch: page blocked, using reader", zap.String("url", rawURL), zap.String("block", string(block)))

	rr, err := f.opts.Reader.Read(ctx, rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	text := flatten(rr.Data.Content)
	if text == "" {
		return nil, &FetchError{URL: rawURL, Err: eris.New("reader returned no content")}
	}
	return &Page{Unit: model.ContentUnit{
		URL:       rawURL,
		Class:     model.ClassHTML,
		MediaType: "text/plain",
		Title:     rr.Data.Title,
		Text:      text,
		FetchedAt: time.Now().UTC(),
	}}, nil
}
