package fetch

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/pkg/jina"
)

type mockJina struct {
	mock.Mock
}

func (m *mockJina) Read(ctx context.Context, targetURL string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.ReadResponse), args.Error(1)
}

func (m *mockJina) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.SearchResponse), args.Error(1)
}

var _ jina.Client = (*mockJina)(nil)

type fakePDF struct {
	text string
	err  error
}

func (f fakePDF) ExtractText(context.Context, []byte) (string, error) { return f.text, f.err }

// mapFetcher serves pages from a map and records what was asked for.
type mapFetcher struct {
	mu    sync.Mutex
	pages map[string]*Page
	calls []string
}

func (f *mapFetcher) Fetch(_ context.Context, rawURL string) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if p, ok := f.pages[rawURL]; ok {
		return p, nil
	}
	return nil, &FetchError{URL: rawURL, Status: 404}
}

func (f *mapFetcher) fetched(rawURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == rawURL {
			return true
		}
	}
	return false
}

func htmlPage(rawURL, text string, links ...Link) *Page {
	return &Page{
		Unit:  model.ContentUnit{URL: rawURL, Class: model.ClassHTML, MediaType: "text/html", Text: text},
		Links: links,
	}
}
