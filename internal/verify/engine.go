// Package verify checks extracted contact data independently of the
// extraction service: mailbox reachability, UK phone normalization and
// email-pattern generation.
package verify

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
)

// Engine runs the three verification checks over a school's contacts.
type Engine struct {
	prober      Prober
	region      string
	templates   []string
	concurrency int
}

// NewEngine creates an Engine. A nil prober skips reachability probing;
// pattern-generated addresses are then kept but never marked verified.
func NewEngine(prober Prober, region string, templates []string, concurrency int) *Engine {
	if region == "" {
		region = "GB"
	}
	if len(templates) == 0 {
		templates = config.DefaultEmailPatterns
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{prober: prober, region: region, templates: templates, concurrency: concurrency}
}

// FromConfig builds an Engine from the verify config section.
func FromConfig(cfg config.VerifyConfig) *Engine {
	var prober Prober
	if cfg.Enabled {
		prober = NewSMTPProber(cfg.HeloDomain, cfg.MailFrom,
			WithPort(cfg.SMTPPort),
			WithTimeout(time.Duration(cfg.ProbeTimeoutSecs)*time.Second),
		)
	}
	return NewEngine(prober, cfg.Region, cfg.EmailPatterns, cfg.Concurrency)
}

// Templates returns the configured email templates.
func (e *Engine) Templates() []string {
	return e.templates
}

// VerifyAll verifies every contact in place and returns the school's
// detected address convention. websiteDomain is used for pattern generation
// when no extracted email reveals the school's mail domain.
func (e *Engine) VerifyAll(ctx context.Context, contacts []model.ContactRecord, websiteDomain string) SchoolPattern {
	pattern, ok := DetectSchoolPattern(contacts, e.templates)
	if !ok {
		pattern = SchoolPattern{Domain: DominantDomain(contacts)}
	}
	if pattern.Domain == "" {
		pattern.Domain = strings.TrimPrefix(strings.ToLower(websiteDomain), "www.")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range contacts {
		c := &contacts[i]
		g.Go(func() error {
			e.VerifyContact(gctx, c, pattern)
			return nil
		})
	}
	_ = g.Wait()
	return pattern
}

// VerifyContact runs the checks for one contact and stores the result on it.
// Phone numbers are normalized in place; a missing email may be filled from
// the school's pattern.
func (e *Engine) VerifyContact(ctx context.Context, c *model.ContactRecord, pattern SchoolPattern) {
	v := &model.VerificationResult{}

	if chk, ok := phoneCheck(c, e.region); ok {
		v.Add(chk)
	}

	switch {
	case c.Email != "":
		c.Email = strings.ToLower(strings.TrimSpace(c.Email))
		if e.prober != nil {
			v.Add(e.prober.Probe(ctx, c.Email))
		}
		if pattern.Template != "" {
			v.Add(patternAgreement(c, pattern.Template))
		}

	case pattern.Template != "" && pattern.Domain != "":
		cand, err := Generate(pattern.Template, c.Name, pattern.Domain)
		if err != nil {
			break
		}
		if e.prober == nil {
			c.Email, c.EmailSource = cand, model.EmailSourcePattern
			v.Add(model.Check{Method: model.MethodPatternMatch, Outcome: model.OutcomeUnverifiable, Evidence: "generated " + cand + ", not probed"})
			break
		}
		probe := e.prober.Probe(ctx, cand)
		switch probe.Outcome {
		case model.OutcomeVerified:
			c.Email, c.EmailSource = cand, model.EmailSourcePattern
			v.Add(probe)
			v.Add(model.Check{Method: model.MethodPatternMatch, Outcome: model.OutcomeVerified, Evidence: "generated " + cand + " from " + pattern.Template})
		case model.OutcomeFailed:
			v.Add(model.Check{Method: model.MethodPatternMatch, Outcome: model.OutcomeFailed, Evidence: cand + " rejected: " + probe.Evidence})
		default:
			c.Email, c.EmailSource = cand, model.EmailSourcePattern
			v.Add(probe)
			v.Add(model.Check{Method: model.MethodPatternMatch, Outcome: model.OutcomeUnverifiable, Evidence: "generated " + cand + ", " + probe.Evidence})
		}
	}

	c.Verification = v
}

func patternAgreement(c *model.ContactRecord, template string) model.Check {
	cand, err := Generate(template, c.Name, emailDomain(c.Email))
	if err == nil && cand == c.Email {
		return model.Check{Method: model.MethodPatternMatch, Outcome: model.OutcomeVerified, Evidence: "follows " + template}
	}
	return model.Check{Method: model.MethodPatternMatch, Outcome: model.OutcomeUnverifiable, Evidence: "does not follow " + template}
}
