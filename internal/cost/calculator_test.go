package cost

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
)

func testRates() Rates {
	return Rates{
		model.TierText: {
			Model: "haiku", Input: 0.80, Output: 4.00,
			CacheWriteMul: 1.25, CacheReadMul: 0.1, MaxOutputTokens: 1000,
		},
		model.TierVision: {
			Model: "sonnet", Input: 3.00, Output: 15.00,
			CacheWriteMul: 1.25, CacheReadMul: 0.1, MaxOutputTokens: 1000, ImageTokens: 1600,
		},
		model.TierFullVision: {
			Model: "opus", Input: 15.00, Output: 75.00,
			CacheWriteMul: 1.25, CacheReadMul: 0.1, MaxOutputTokens: 1000, ImageTokens: 1600,
		},
	}
}

func TestActual(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name  string
		tier  model.Tier
		usage model.TokenUsage
		want  float64
	}{
		{
			name:  "text simple",
			tier:  model.TierText,
			usage: model.TokenUsage{InputTokens: 1_000_000, OutputTokens: 100_000},
			want:  0.80 + 0.40,
		},
		{
			name: "text with prompt cache",
			tier: model.TierText,
			usage: model.TokenUsage{
				InputTokens: 500_000, OutputTokens: 50_000,
				CacheWrite: 200_000, CacheRead: 300_000,
			},
			// in 0.40 + out 0.20 + cw 0.2*0.80*1.25=0.20 + cr 0.3*0.80*0.1=0.024
			want: 0.824,
		},
		{
			name:  "full vision",
			tier:  model.TierFullVision,
			usage: model.TokenUsage{InputTokens: 10_000, OutputTokens: 1_000},
			want:  0.15 + 0.075,
		},
		{
			name:  "unknown tier costs nothing",
			tier:  model.Tier("turbo"),
			usage: model.TokenUsage{InputTokens: 1_000_000},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Actual(tt.tier, tt.usage), 1e-9)
		})
	}
}

func TestEstimate_TextTruncatesLongPages(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	short := model.ContentUnit{Class: model.ClassPDFText, Text: strings.Repeat("a", 4000)}
	huge := model.ContentUnit{Class: model.ClassPDFText, Text: strings.Repeat("a", MaxTextChars*3)}

	assert.Equal(t, promptOverheadTokens+1000, calc.InputTokens(model.TierText, short))
	assert.Equal(t, promptOverheadTokens+MaxTextChars/4, calc.InputTokens(model.TierText, huge))

	est, ok := calc.Estimate(model.TierText, short)
	assert.True(t, ok)
	// (1900 / 1e6 * 0.80) + (1000 / 1e6 * 4.00)
	assert.InDelta(t, 0.00152+0.004, est, 1e-9)
}

func TestEstimate_ImagesUseImageTokens(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	img := model.ContentUnit{Class: model.ClassImage, Data: make([]byte, 50_000)}
	pdf := model.ContentUnit{Class: model.ClassPDFImage, Data: make([]byte, 400_000)}

	assert.Equal(t, promptOverheadTokens+1600, calc.InputTokens(model.TierVision, img))
	assert.Equal(t, promptOverheadTokens+3*1600, calc.InputTokens(model.TierVision, pdf))
}

func TestEstimates_OrderedByTierCost(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	ests := calc.Estimates(model.ContentUnit{Class: model.ClassHTML, Text: "<p>staff</p>"})
	assert.Len(t, ests, 3)
	assert.Less(t, ests[model.TierText], ests[model.TierVision])
	assert.Less(t, ests[model.TierVision], ests[model.TierFullVision])

	_, ok := calc.Estimate(model.Tier("turbo"), model.ContentUnit{})
	assert.False(t, ok)
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	rates := FromConfig(config.TiersConfig{
		Text:       config.TierConfig{Model: "h", Input: 1, Output: 2, MaxOutputTokens: 10},
		Vision:     config.TierConfig{Model: "s", ImageTokens: 99},
		FullVision: config.TierConfig{Model: "o"},
	})

	assert.Equal(t, "h", rates[model.TierText].Model)
	assert.Equal(t, 10, rates[model.TierText].MaxOutputTokens)
	assert.Equal(t, 99, rates[model.TierVision].ImageTokens)
	assert.Equal(t, "o", NewCalculator(rates).Model(model.TierFullVision))
}
