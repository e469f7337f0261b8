package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SchemaVersion is folded into every cache key so that a change to the
// extraction output shape never serves results written by an older build.
const SchemaVersion = "v3"

// ContentClass is the classification tag a fetched artifact carries.
type ContentClass string

const (
	ClassHTML     ContentClass = "html"
	ClassPDFText  ContentClass = "pdf-text"
	ClassPDFImage ContentClass = "pdf-image"
	ClassImage    ContentClass = "image"
)

// AllContentClasses returns every classification in a stable order.
func AllContentClasses() []ContentClass {
	return []ContentClass{ClassHTML, ClassPDFText, ClassPDFImage, ClassImage}
}

// Valid reports whether c is a known classification.
func (c ContentClass) Valid() bool {
	switch c {
	case ClassHTML, ClassPDFText, ClassPDFImage, ClassImage:
		return true
	}
	return false
}

// TargetRecord identifies a school to enrich. Callers build it and the
// pipeline never mutates it.
type TargetRecord struct {
	Name           string `json:"name"`
	URL            string `json:"url,omitempty"`
	URN            string `json:"urn,omitempty"`
	LocalAuthority string `json:"local_authority,omitempty"`
	Phase          string `json:"phase,omitempty"`
	Postcode       string `json:"postcode,omitempty"`
	ForceRefresh   bool   `json:"force_refresh,omitempty"`
}

// Slug returns a lowercase, hyphen-separated form of the school name.
func (r TargetRecord) Slug() string {
	return Slugify(r.Name)
}

// Fingerprint hashes the identity fields that determine what a run would
// fetch, plus the schema version.
func (r TargetRecord) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(NormalizeName(r.Name)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimRight(strings.ToLower(strings.TrimSpace(r.URL)), "/")))
	h.Write([]byte{0})
	h.Write([]byte(SchemaVersion))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// CacheKey is the cache identity for this record.
func (r TargetRecord) CacheKey() string {
	return "school:" + r.Slug() + ":" + r.Fingerprint()
}

// ContentUnit is one fetched artifact. Text holds extracted text for html and
// pdf-text units; Data holds raw bytes for pdf-image and image units.
type ContentUnit struct {
	URL       string       `json:"url"`
	Class     ContentClass `json:"class"`
	MediaType string       `json:"media_type,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"-"`
	Data      []byte       `json:"-"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// Size returns the payload size used for cost estimation.
func (u ContentUnit) Size() int {
	if len(u.Data) > 0 {
		return len(u.Data)
	}
	return len(u.Text)
}

// Fold strips diacritics and lowercases s. A transform chain carries
// buffers, so each call builds its own.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// NormalizeName folds a school name and collapses everything that is not a
// letter or digit to single spaces.
func NormalizeName(name string) string {
	folded := Fold(name)
	var b strings.Builder
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		if r == '\'' || r == '’' {
			continue
		}
		if r == '&' {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString("and")
			space = true
			continue
		}
		space = true
	}
	return b.String()
}

// Slugify turns a name into a URL-safe slug.
func Slugify(name string) string {
	return strings.ReplaceAll(NormalizeName(name), " ", "-")
}
