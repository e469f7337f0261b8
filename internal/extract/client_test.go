package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/cost"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/resilience"
	"github.com/protocol-education/school-intel/pkg/anthropic"
)

func testCalculator() *cost.Calculator {
	return cost.NewCalculator(cost.Rates{
		model.TierText:       {Model: "claude-haiku", Input: 1, Output: 5, MaxOutputTokens: 2048, ImageTokens: 1600},
		model.TierVision:     {Model: "claude-sonnet", Input: 3, Output: 15, MaxOutputTokens: 2048, ImageTokens: 1600},
		model.TierFullVision: {Model: "claude-opus", Input: 5, Output: 25, MaxOutputTokens: 4096, ImageTokens: 1600},
	})
}

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
}

var htmlUnit = model.ContentUnit{
	URL:   "https://oakfield.sch.uk/staff",
	Class: model.ClassHTML,
	Text:  "Our SENCo is Amira Khan (a.khan@oakfield.sch.uk). Cover staff are supplied by Zen Educate.",
}

const htmlAnswer = `{
  "contacts": [
    {"role": "senco", "title": "SENCo", "name": "Amira Khan", "email": "a.khan@oakfield.sch.uk"},
    {"role": "business_manager", "name": "Tom Reed", "phone": "020 7123 4567"}
  ],
  "competitor_mentions": [{"agency": "Zen Educate", "context": "Cover staff are supplied by Zen Educate."}],
  "inspection_findings": ["Leaders should improve the consistency of phonics teaching."]
}`

func TestExtract_HTML(t *testing.T) {
	ai := new(mockAnthropicClient)
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		if req.Model != "claude-opus" || req.MaxTokens != 4096 {
			return false
		}
		if len(req.System) != 1 || req.System[0].CacheControl == nil {
			return false
		}
		if req.Temperature == nil || *req.Temperature != 0 {
			return false
		}
		msg := req.Messages[0]
		return len(msg.Attachments) == 0 &&
			strings.Contains(msg.Content, "School: Oakfield Primary") &&
			strings.Contains(msg.Content, htmlUnit.Text) &&
			strings.Contains(msg.Content, "inspection_findings")
	})).Return(textResponse(htmlAnswer, 2000, 400), nil).Once()

	c := New(ai, testCalculator(), fastRetry())
	res, err := c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierFullVision)
	require.NoError(t, err)

	require.Len(t, res.Contacts, 2)
	assert.Equal(t, model.RoleSENCO, res.Contacts[0].Role)
	assert.Equal(t, "a.khan@oakfield.sch.uk", res.Contacts[0].Email)
	assert.Equal(t, model.RoleBusinessManager, res.Contacts[1].Role)
	assert.Equal(t, []string{htmlUnit.URL}, res.Contacts[1].SourceURLs)

	require.Len(t, res.Hints, 1)
	assert.Contains(t, res.Hints[0].Text, "Zen Educate")
	assert.Len(t, res.Findings, 1)

	// 2000 in at $5/MTok + 400 out at $25/MTok
	assert.InDelta(t, 0.02, res.CostUSD, 1e-9)
	assert.Equal(t, int64(2000), res.Usage.InputTokens)
	assert.Equal(t, "claude-opus", res.Model)
	assert.Equal(t, 1, res.Attempts)
	ai.AssertExpectations(t)
}

func TestExtract_ImageAndPDFAttachments(t *testing.T) {
	tests := []struct {
		name      string
		unit      model.ContentUnit
		kind      anthropic.AttachmentKind
		mediaType string
	}{
		{
			name: "image",
			unit: model.ContentUnit{URL: "https://oakfield.sch.uk/team.png", Class: model.ClassImage, MediaType: "image/png", Data: []byte("png")},
			kind: anthropic.AttachImage, mediaType: "image/png",
		},
		{
			name: "image without media type",
			unit: model.ContentUnit{URL: "https://oakfield.sch.uk/team", Class: model.ClassImage, Data: []byte("jpg")},
			kind: anthropic.AttachImage, mediaType: "image/jpeg",
		},
		{
			name: "scanned pdf",
			unit: model.ContentUnit{URL: "https://oakfield.sch.uk/prospectus.pdf", Class: model.ClassPDFImage, Data: []byte("%PDF")},
			kind: anthropic.AttachPDF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := new(mockAnthropicClient)
			ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
				atts := req.Messages[0].Attachments
				return req.Model == "claude-sonnet" &&
					len(atts) == 1 && atts[0].Kind == tt.kind && atts[0].MediaType == tt.mediaType &&
					strings.Contains(req.Messages[0].Content, "visible_text")
			})).Return(textResponse(`{"contacts":[{"role":"headteacher","name":"Ruth Bell"}],"visible_text":"Now hiring via Hays Education"}`, 1700, 100), nil)

			c := New(ai, testCalculator(), fastRetry())
			res, err := c.Extract(context.Background(), "Oakfield Primary", tt.unit, model.TierVision)
			require.NoError(t, err)
			require.Len(t, res.Contacts, 1)
			assert.Equal(t, model.RoleHeadteacher, res.Contacts[0].Role)
			require.Len(t, res.Hints, 1)
			assert.Equal(t, "Now hiring via Hays Education", res.Hints[0].Text)
			assert.Nil(t, res.Findings)
			ai.AssertExpectations(t)
		})
	}
}

func TestExtract_SchemaMismatchStillCharges(t *testing.T) {
	ai := new(mockAnthropicClient)
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"staff": ["Amira Khan"]}`, 1000, 50), nil).Once()

	c := New(ai, testCalculator(), fastRetry())
	res, err := c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierText)

	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, model.TierText, ee.Tier)
	assert.Equal(t, model.ClassHTML, ee.Class)
	assert.Equal(t, "response does not match schema", ee.Reason)
	assert.False(t, resilience.IsRetryable(err))

	require.NotNil(t, res)
	assert.Empty(t, res.Contacts)
	assert.InDelta(t, 0.00125, res.CostUSD, 1e-9)
	ai.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestExtract_TruncatedResponse(t *testing.T) {
	resp := textResponse(`{"contacts": [{"role": "senco", "name": "Am`, 1000, 2048)
	resp.StopReason = "max_tokens"

	ai := new(mockAnthropicClient)
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(resp, nil)

	c := New(ai, testCalculator(), fastRetry())
	res, err := c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierText)

	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Reason, "max_tokens")
	assert.Greater(t, res.CostUSD, 0.0)
}

func TestExtract_TransientTimeoutIsRetried(t *testing.T) {
	ai := new(mockAnthropicClient)
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Twice()
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"contacts": []}`, 900, 10), nil).Once()

	c := New(ai, testCalculator(), fastRetry(), WithCallTimeout(20*time.Millisecond))
	res, err := c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierText)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Empty(t, res.Contacts)
	ai.AssertExpectations(t)
}

func TestExtract_PermanentServiceErrorNotRetried(t *testing.T) {
	ai := new(mockAnthropicClient)
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("invalid api key"))

	c := New(ai, testCalculator(), fastRetry())
	res, err := c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierText)

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Retryable())
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, res.CostUSD)
}

func TestExtract_CircuitOpensPerModel(t *testing.T) {
	ai := new(mockAnthropicClient)
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku"
	})).Return(nil, errors.New("upstream exploded"))
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-opus"
	})).Return(textResponse(`{"contacts": []}`, 900, 10), nil)

	breakers := resilience.NewBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	c := New(ai, testCalculator(), fastRetry(), WithBreakers(breakers))

	_, err := c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierText)
	require.Error(t, err)

	_, err = c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierText)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)

	_, err = c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierFullVision)
	require.NoError(t, err)

	ai.AssertNumberOfCalls(t, "CreateMessage", 2)
	assert.Equal(t, resilience.CircuitOpen, c.Breakers().States()["claude-haiku"])
}

func TestExtract_NoModelForTier(t *testing.T) {
	ai := new(mockAnthropicClient)
	c := New(ai, cost.NewCalculator(cost.Rates{}))

	_, err := c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierText)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model configured")
	ai.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestExtract_EmptyUnit(t *testing.T) {
	ai := new(mockAnthropicClient)
	c := New(ai, testCalculator())

	_, err := c.Extract(context.Background(), "Oakfield Primary", model.ContentUnit{URL: "u", Class: model.ClassPDFText, Text: "  "}, model.TierText)
	require.Error(t, err)
	ai.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestExtract_LongTextTruncated(t *testing.T) {
	long := model.ContentUnit{URL: "u", Class: model.ClassPDFText, Text: strings.Repeat("é", cost.MaxTextChars)}

	ai := new(mockAnthropicClient)
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		body := req.Messages[0].Content
		idx := strings.Index(body, "Content:\n")
		return idx >= 0 && len(body[idx+len("Content:\n"):]) <= cost.MaxTextChars
	})).Return(textResponse(`{"contacts": []}`, 12000, 10), nil)

	c := New(ai, testCalculator())
	_, err := c.Extract(context.Background(), "Oakfield Primary", long, model.TierText)
	require.NoError(t, err)
	ai.AssertExpectations(t)
}

// The rate-limit path needs a real *sdk.Error, so it goes through an HTTP
// test server.
func rateLimitServer(t *testing.T, throttled int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) <= throttled {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku","stop_reason":"end_turn",
			"content":[{"type":"text","text":"{\"contacts\":[{\"role\":\"senco\",\"name\":\"Amira Khan\"}]}"}],
			"usage":{"input_tokens":1000,"output_tokens":100}}`))
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func TestExtract_RateLimitRetriedThenSucceeds(t *testing.T) {
	ts, calls := rateLimitServer(t, 2)

	c := New(anthropic.NewClient("test-key", option.WithBaseURL(ts.URL)), testCalculator(), fastRetry())
	res, err := c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierText)
	require.NoError(t, err)
	require.Len(t, res.Contacts, 1)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, res.Attempts)
}

func TestExtract_RateLimitExhausted(t *testing.T) {
	ts, calls := rateLimitServer(t, 100)

	c := New(anthropic.NewClient("test-key", option.WithBaseURL(ts.URL)), testCalculator(), fastRetry())
	res, err := c.Extract(context.Background(), "Oakfield Primary", htmlUnit, model.TierText)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3, rl.Attempts)
	assert.True(t, anthropic.IsRateLimit(rl))
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, res.CostUSD)
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(new(mockAnthropicClient), testCalculator(), config.AnthropicConfig{
		TimeoutSecs:             30,
		MaxRetries:              2,
		CircuitFailureThreshold: 4,
		PromptCacheTTL:          "1h",
	})
	assert.Equal(t, 30*time.Second, c.timeout)
	assert.Equal(t, "1h", c.cacheTTL)
	assert.Equal(t, 3, c.retry.MaxAttempts)
	assert.NotNil(t, c.retry.OnRetry)
	assert.NotNil(t, c.Breakers())
}
