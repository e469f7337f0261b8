package fetch

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// blockTags end a line of text when flattened.
const blockTags = "p, div, li, tr, h1, h2, h3, h4, h5, h6, section, article, header, table, dd, dt, blockquote"

// parsedHTML is the useful part of an HTML page.
type parsedHTML struct {
	Title  string
	Text   string
	Links  []Link
	Emails []string
}

// parseHTML reads the title, visible text, links and mailto addresses of an
// HTML document. Links are resolved against base and stripped of fragments.
func parseHTML(base *url.URL, body []byte) (*parsedHTML, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: parse html")
	}

	out := &parsedHTML{Title: collapse(doc.Find("title").First().Text())}

	seenLink := make(map[string]bool)
	seenEmail := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "mailto:"):
			addr := strings.ToLower(strings.TrimSpace(strings.SplitN(href[len("mailto:"):], "?", 2)[0]))
			if addr != "" && !seenEmail[addr] {
				seenEmail[addr] = true
				out.Emails = append(out.Emails, addr)
			}
			return
		case href == "", strings.HasPrefix(href, "#"), strings.HasPrefix(lower, "javascript:"), strings.HasPrefix(lower, "tel:"):
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		key := abs.String()
		if seenLink[key] {
			return
		}
		seenLink[key] = true
		out.Links = append(out.Links, Link{URL: key, Text: collapse(s.Text())})
	})

	// Links are read first: staff pages are usually only linked from the nav.
	doc.Find("script, style, noscript, template, svg, iframe, nav, footer, form").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("td, th").AppendHtml(" ")
	doc.Find(blockTags).AppendHtml("\n")

	out.Text = flatten(doc.Find("body").Text())
	if out.Text == "" {
		out.Text = flatten(doc.Text())
	}
	return out, nil
}

// flatten collapses runs of spaces within lines and drops blank lines.
func flatten(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		line = collapse(line)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
