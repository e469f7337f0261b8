package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/protocol-education/school-intel/internal/extract"
	"github.com/protocol-education/school-intel/internal/fetch"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/verify"
)

// --- Collector Mock ---

type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) Collect(ctx context.Context, rec model.TargetRecord) (*fetch.Collection, error) {
	args := m.Called(ctx, rec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fetch.Collection), args.Error(1)
}

// --- Financial Mock ---

type mockFinancial struct {
	mock.Mock
}

func (m *mockFinancial) Lookup(name, urn string) (*model.FinancialProfile, bool) {
	args := m.Called(name, urn)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*model.FinancialProfile), args.Bool(1)
}

var (
	_ Collector       = (*mockCollector)(nil)
	_ FinancialLookup = (*mockFinancial)(nil)
	_ ResultCache     = (*failingCache)(nil)
)

// fakeExtractor answers from a function so every call gets fresh slices,
// and records each call.
type fakeExtractor struct {
	mu    sync.Mutex
	fn    func(unit model.ContentUnit, t model.Tier) (*extract.Result, error)
	calls []extractCall
}

type extractCall struct {
	url  string
	tier model.Tier
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, unit model.ContentUnit, t model.Tier) (*extract.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, extractCall{url: unit.URL, tier: t})
	f.mu.Unlock()
	return f.fn(unit, t)
}

func (f *fakeExtractor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeVerifier marks every present email and phone verified.
type fakeVerifier struct {
	template string
}

func (f fakeVerifier) VerifyAll(_ context.Context, contacts []model.ContactRecord, websiteDomain string) verify.SchoolPattern {
	for i := range contacts {
		v := &model.VerificationResult{}
		if contacts[i].Email != "" {
			v.Add(model.Check{Method: model.MethodEmailReachability, Outcome: model.OutcomeVerified})
		}
		if contacts[i].Phone != "" {
			v.Add(model.Check{Method: model.MethodPhoneNormalized, Outcome: model.OutcomeVerified})
		}
		contacts[i].Verification = v
	}
	return verify.SchoolPattern{Template: f.template, Domain: websiteDomain, Support: 1}
}

// failingCache errors on every call.
type failingCache struct{ err error }

func (f failingCache) Get(context.Context, string) (*model.EnrichmentResult, error) {
	return nil, f.err
}

func (f failingCache) Stale(context.Context, string) (*model.EnrichmentResult, error) {
	return nil, f.err
}

func (f failingCache) Put(context.Context, string, *model.EnrichmentResult, time.Duration) error {
	return f.err
}

// slowCollector serves every school the same single-page site after a delay.
type slowCollector struct {
	delay time.Duration
}

func (s slowCollector) Collect(ctx context.Context, rec model.TargetRecord) (*fetch.Collection, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &fetch.Collection{
		Website: "https://" + rec.Slug() + ".sch.uk/",
		Units:   []model.ContentUnit{htmlUnit("https://"+rec.Slug()+".sch.uk/", "Welcome")},
	}, nil
}
