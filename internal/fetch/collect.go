package fetch

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/pkg/jina"
)

// ErrNoWebsite means the record had no URL and search found none.
var ErrNoWebsite = eris.New("fetch: no website found")

const (
	defaultMaxPages    = 6
	collectParallelism = 3
)

// linkKeywords score candidate links by how likely they are to name staff,
// carry competitor signals or hold an inspection report.
var linkKeywords = []struct {
	word   string
	weight int
}{
	{"staff", 10},
	{"our-team", 9},
	{"team", 7},
	{"who-we-are", 7},
	{"people", 6},
	{"leadership", 8},
	{"senior", 5},
	{"senco", 8},
	{"send", 6},
	{"inclusion", 6},
	{"contact", 8},
	{"governor", 5},
	{"vacanc", 7},
	{"job", 6},
	{"career", 6},
	{"recruit", 6},
	{"work-for-us", 7},
	{"ofsted", 5},
	{"key-information", 3},
	{"about", 3},
	{"headteacher", 6},
	{"welcome", 2},
}

// skipHosts are search results that describe a school but are not its site.
var skipHosts = []string{
	"gov.uk", "wikipedia.org", "facebook.com", "twitter.com", "x.com",
	"linkedin.com", "instagram.com", "youtube.com", "tes.com", "indeed.com",
	"indeed.co.uk", "locrating.com", "schoolguide.co.uk", "snobe.co.uk",
	"compare-school-performance", "goodschoolsguide.co.uk", "192.com",
	"yell.com", "google.com", "bing.com",
}

// Collection is everything fetched for one school.
type Collection struct {
	Website string
	Units   []model.ContentUnit
	// Inspection is the latest inspection report, when one was found. It is
	// analysed locally and never sent for extraction.
	Inspection *model.ContentUnit
	// Failed lists secondary URLs that could not be fetched.
	Failed []string
}

// Collector gathers the content units for a school.
type Collector struct {
	fetcher  Fetcher
	search   jina.Client
	maxPages int
	excludes *PathMatcher
}

// NewCollector creates a Collector. search may be nil, in which case records
// without a URL cannot be collected.
func NewCollector(f Fetcher, search jina.Client, maxPages int) *Collector {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Collector{fetcher: f, search: search, maxPages: maxPages, excludes: NewPathMatcher(nil)}
}

// CollectorFromConfig wires a Collector with an HTTPFetcher. Jina is used
// for discovery and for blocked pages.
func CollectorFromConfig(fc config.FetchConfig, jc config.JinaConfig) *Collector {
	opts := []jina.Option{jina.WithSearchBaseURL(jc.SearchBaseURL)}
	if jc.TimeoutSecs > 0 {
		opts = append(opts, jina.WithHTTPClient(&http.Client{Timeout: time.Duration(jc.TimeoutSecs) * time.Second}))
	}
	search := jina.NewClient(jc.Key, opts...)
	return NewCollector(FromConfig(fc, search), search, fc.MaxPages)
}

// Collect fetches the homepage and the most promising linked pages. Only a
// failed homepage is an error; other failures are logged and listed.
func (c *Collector) Collect(ctx context.Context, rec model.TargetRecord) (*Collection, error) {
	log := zap.L().With(zap.String("school", rec.Name))

	website := strings.TrimSpace(rec.URL)
	if website == "" {
		found, err := c.DiscoverWebsite(ctx, rec)
		if err != nil {
			return nil, &FetchError{URL: rec.Name, Err: err}
		}
		website = found
		log.Info("fetch: discovered website", zap.String("url", website))
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}

	home, err := c.fetcher.Fetch(ctx, website)
	if err != nil {
		return nil, err
	}

	col := &Collection{Website: website, Units: []model.ContentUnit{home.Unit}}
	homeURL, _ := url.Parse(home.Unit.URL)

	picks, inspection := c.rankLinks(homeURL, home.Links)
	if len(picks) > c.maxPages-1 {
		picks = picks[:c.maxPages-1]
	}

	pages := make([]*Page, len(picks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectParallelism)
	for i, link := range picks {
		g.Go(func() error {
			p, err := c.fetcher.Fetch(gctx, link.URL)
			if err != nil {
				log.Debug("fetch: linked page failed", zap.String("url", link.URL), zap.Error(err))
				return nil
			}
			pages[i] = p
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range pages {
		if p == nil {
			col.Failed = append(col.Failed, picks[i].URL)
			continue
		}
		col.Units = append(col.Units, p.Unit)
	}

	col.Inspection = c.findInspection(ctx, rec, inspection)

	log.Info("fetch: collected",
		zap.String("website", website),
		zap.Int("units", len(col.Units)),
		zap.Int("failed", len(col.Failed)),
		zap.Bool("inspection", col.Inspection != nil),
	)
	return col, nil
}

// rankLinks orders same-site links by keyword score and picks out any link
// to an inspection report.
func (c *Collector) rankLinks(home *url.URL, links []Link) ([]Link, *Link) {
	type scored struct {
		link  Link
		score int
		order int
	}
	var cands []scored
	var inspection *Link
	seen := map[string]bool{}
	if home != nil {
		seen[strings.TrimRight(home.String(), "/")] = true
	}

	for i, l := range links {
		u, err := url.Parse(l.URL)
		if err != nil {
			continue
		}
		if inspection == nil && isInspectionURL(u) {
			inspection = &l
			continue
		}
		if home == nil || !sameSite(home, u) || c.excludes.Excluded(l.URL) {
			continue
		}
		key := strings.TrimRight(l.URL, "/")
		if seen[key] {
			continue
		}
		seen[key] = true

		s := scoreLink(u, l.Text)
		if s <= 0 {
			continue
		}
		cands = append(cands, scored{link: l, score: s, order: i})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].order < cands[j].order
	})
	out := make([]Link, len(cands))
	for i, cand := range cands {
		out[i] = cand.link
	}
	return out, inspection
}

func scoreLink(u *url.URL, text string) int {
	p := strings.ToLower(u.Path)
	t := strings.ToLower(strings.ReplaceAll(text, " ", "-"))
	score := 0
	for _, kw := range linkKeywords {
		if strings.Contains(p, kw.word) || strings.Contains(t, kw.word) {
			score += kw.weight
		}
	}
	return score
}

func sameSite(home, u *url.URL) bool {
	h := strings.TrimPrefix(strings.ToLower(home.Hostname()), "www.")
	o := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return o == h || strings.HasSuffix(o, "."+h)
}

func isInspectionURL(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == "reports.ofsted.gov.uk" || host == "files.ofsted.gov.uk" {
		return true
	}
	p := strings.ToLower(u.Path)
	return strings.Contains(p, "ofsted") && strings.HasSuffix(p, ".pdf")
}

// findInspection fetches the school's latest inspection report. A provider
// page on reports.ofsted.gov.uk is followed to its first report PDF.
func (c *Collector) findInspection(ctx context.Context, rec model.TargetRecord, linked *Link) *model.ContentUnit {
	target := ""
	if linked != nil {
		target = linked.URL
	} else if c.search != nil {
		query := rec.Name + " Ofsted report"
		res, err := c.search.Search(ctx, query, jina.WithSiteFilter("reports.ofsted.gov.uk"), jina.WithCount(5))
		if err == nil {
			for _, r := range res.Data {
				if u, err := url.Parse(r.URL); err == nil && isInspectionURL(u) {
					target = r.URL
					break
				}
			}
		}
	}
	if target == "" {
		return nil
	}

	page, err := c.fetcher.Fetch(ctx, target)
	if err != nil {
		zap.L().Debug("fetch: inspection report failed", zap.String("url", target), zap.Error(err))
		return nil
	}
	if page.Unit.Class == model.ClassHTML {
		for _, l := range page.Links {
			u, err := url.Parse(l.URL)
			if err != nil || !strings.HasSuffix(strings.ToLower(u.Path), ".pdf") && u.Hostname() != "files.ofsted.gov.uk" {
				continue
			}
			if report, err := c.fetcher.Fetch(ctx, l.URL); err == nil && report.Unit.Class == model.ClassPDFText {
				return &report.Unit
			}
			break
		}
	}
	if page.Unit.Text == "" {
		return nil
	}
	return &page.Unit
}

// DiscoverWebsite searches for the school's own site. Hosts under .sch.uk
// and hosts containing words of the school name are preferred.
func (c *Collector) DiscoverWebsite(ctx context.Context, rec model.TargetRecord) (string, error) {
	if c.search == nil {
		return "", ErrNoWebsite
	}
	query := rec.Name
	if rec.LocalAuthority != "" {
		query += " " + rec.LocalAuthority
	}
	if !strings.Contains(strings.ToLower(query), "school") && !strings.Contains(strings.ToLower(query), "academy") {
		query += " school"
	}

	res, err := c.search.Search(ctx, query, jina.WithCountry("GB"), jina.WithCount(10))
	if err != nil {
		return "", eris.Wrap(err, "fetch: website search")
	}

	words := strings.Fields(model.NormalizeName(rec.Name))
	best, bestScore := "", 0
	for _, r := range res.Data {
		u, err := url.Parse(r.URL)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if skippedHost(host) {
			continue
		}
		score := 1
		if strings.HasSuffix(host, ".sch.uk") {
			score += 3
		}
		for _, w := range words {
			if len(w) > 3 && w != "school" && w != "primary" && strings.Contains(host, w) {
				score += 2
			}
		}
		if score > bestScore {
			best, bestScore = u.Scheme+"://"+u.Host+"/", score
		}
	}
	if best == "" {
		return "", ErrNoWebsite
	}
	return best, nil
}

func skippedHost(host string) bool {
	for _, s := range skipHosts {
		if host == s || strings.HasSuffix(host, "."+s) || strings.Contains(host, s) && strings.Contains(s, "-") {
			return true
		}
	}
	return false
}
