package verify

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/protocol-education/school-intel/internal/model"
)

// ErrNameTooShort means the template needs a name part the contact lacks.
var ErrNameTooShort = eris.New("verify: name lacks parts required by template")

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "mx": true,
	"dr": true, "prof": true, "professor": true, "rev": true, "revd": true,
	"sir": true, "dame": true, "fr": true, "sister": true,
}

// NameParts is a contact name reduced to address-safe tokens.
type NameParts struct {
	First  string
	Middle string
	Last   string
}

// SplitName folds accents, drops honorifics and post-nominals and returns
// the first, middle and last tokens. Hyphens and apostrophes are removed so
// "Anne-Marie O'Neill" gives "annemarie" and "oneill".
func SplitName(name string) NameParts {
	var tokens []string
	for _, raw := range strings.Fields(model.Fold(name)) {
		raw = strings.Trim(raw, ".,()")
		if raw == "" || honorifics[raw] {
			continue
		}
		var b strings.Builder
		for _, r := range raw {
			if unicode.IsLetter(r) && r < unicode.MaxASCII {
				b.WriteRune(r)
			}
		}
		tok := b.String()
		if tok == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	// Trailing post-nominals ("BEd", "NPQH") are not part of the address.
	for len(tokens) > 2 && postNominal(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}

	var p NameParts
	switch len(tokens) {
	case 0:
	case 1:
		p.First = tokens[0]
	default:
		p.First = tokens[0]
		p.Last = tokens[len(tokens)-1]
		p.Middle = strings.Join(tokens[1:len(tokens)-1], "")
	}
	return p
}

var postNominals = map[string]bool{
	"bed": true, "ba": true, "bsc": true, "ma": true, "msc": true, "med": true,
	"phd": true, "npqh": true, "qts": true, "pgce": true, "obe": true, "mbe": true,
}

func postNominal(tok string) bool {
	return postNominals[tok]
}

// Generate builds the candidate address for name under template at domain.
// Supported placeholders: {first}, {last}, {middle}, {f}, {l}, {m}. The
// result depends only on its inputs.
func Generate(template, name, domain string) (string, error) {
	p := SplitName(name)
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return "", eris.New("verify: empty domain")
	}

	initial := func(s string) string {
		if s == "" {
			return ""
		}
		return s[:1]
	}
	parts := map[string]string{
		"{first}":  p.First,
		"{last}":   p.Last,
		"{middle}": p.Middle,
		"{f}":      initial(p.First),
		"{l}":      initial(p.Last),
		"{m}":      initial(p.Middle),
	}

	local := template
	for ph, val := range parts {
		if !strings.Contains(local, ph) {
			continue
		}
		if val == "" {
			return "", eris.Wrapf(ErrNameTooShort, "template %s, name %q", template, name)
		}
		local = strings.ReplaceAll(local, ph, val)
	}
	if strings.ContainsAny(local, "{}") || local == "" {
		return "", eris.Errorf("verify: unsupported template %q", template)
	}
	return local + "@" + domain, nil
}

// DetectPattern returns the first template that reproduces email from name.
func DetectPattern(email, name string, templates []string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "", false
	}
	domain := email[at+1:]
	for _, tpl := range templates {
		cand, err := Generate(tpl, name, domain)
		if err != nil {
			continue
		}
		if cand == email {
			return tpl, true
		}
	}
	return "", false
}

// SchoolPattern is the address convention inferred for a school.
type SchoolPattern struct {
	Template string
	Domain   string
	Support  int
}

// DetectSchoolPattern finds the template and domain most contacts' emails
// follow. Ties go to the template listed first.
func DetectSchoolPattern(contacts []model.ContactRecord, templates []string) (SchoolPattern, bool) {
	type key struct{ tpl, domain string }
	counts := make(map[key]int)
	for _, c := range contacts {
		if c.Email == "" || c.EmailSource == model.EmailSourcePattern {
			continue
		}
		tpl, ok := DetectPattern(c.Email, c.Name, templates)
		if !ok {
			continue
		}
		counts[key{tpl, emailDomain(c.Email)}]++
	}
	var best SchoolPattern
	for _, tpl := range templates {
		for k, n := range counts {
			if k.tpl != tpl {
				continue
			}
			if n > best.Support || (n == best.Support && k.tpl == best.Template && k.domain < best.Domain) {
				best = SchoolPattern{Template: k.tpl, Domain: k.domain, Support: n}
			}
		}
	}
	return best, best.Support > 0
}

// DominantDomain returns the most common domain among extracted emails.
func DominantDomain(contacts []model.ContactRecord) string {
	counts := make(map[string]int)
	best, bestN := "", 0
	for _, c := range contacts {
		if c.Email == "" {
			continue
		}
		d := emailDomain(c.Email)
		counts[d]++
		if n := counts[d]; n > bestN || (n == bestN && d < best) {
			best, bestN = d, n
		}
	}
	return best
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
