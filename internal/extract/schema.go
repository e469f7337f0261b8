package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/protocol-education/school-intel/internal/analysis"
	"github.com/protocol-education/school-intel/internal/model"
)

// rawContact is one person as the service reports them.
type rawContact struct {
	Role  string `json:"role"`
	Title string `json:"title,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type rawMention struct {
	Agency  string `json:"agency"`
	Context string `json:"context,omitempty"`
}

// payload is the decoded response for one classification.
type payload interface {
	contacts() []rawContact
	mentions() []rawMention
	findings() []string
	transcript() string
}

// documentPayload is the response shape for html and pdf-text units.
type documentPayload struct {
	Contacts           *[]rawContact `json:"contacts"`
	CompetitorMentions []rawMention  `json:"competitor_mentions,omitempty"`
	InspectionFindings []string      `json:"inspection_findings,omitempty"`
}

func (p *documentPayload) contacts() []rawContact { return *p.Contacts }
func (p *documentPayload) mentions() []rawMention { return p.CompetitorMentions }
func (p *documentPayload) findings() []string     { return p.InspectionFindings }
func (p *documentPayload) transcript() string     { return "" }

// visualPayload is the response shape for pdf-image and image units. There
// is no page text to scan afterwards, so the service also transcribes what
// it can read.
type visualPayload struct {
	Contacts           *[]rawContact `json:"contacts"`
	CompetitorMentions []rawMention  `json:"competitor_mentions,omitempty"`
	VisibleText        string        `json:"visible_text,omitempty"`
}

func (p *visualPayload) contacts() []rawContact { return *p.Contacts }
func (p *visualPayload) mentions() []rawMention { return p.CompetitorMentions }
func (p *visualPayload) findings() []string     { return nil }
func (p *visualPayload) transcript() string     { return p.VisibleText }

func payloadFor(class model.ContentClass) (payload, bool) {
	switch class {
	case model.ClassHTML, model.ClassPDFText:
		return &documentPayload{}, true
	case model.ClassPDFImage, model.ClassImage:
		return &visualPayload{}, true
	}
	return nil, false
}

// decode validates text against the schema for class. The returned string
// is a reason suitable for ExtractionError.
func decode(class model.ContentClass, text string) (payload, string, error) {
	p, ok := payloadFor(class)
	if !ok {
		return nil, "unknown classification", nil
	}

	body := cleanJSON(text)
	if body == "" {
		return nil, "empty response", nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, "response does not match schema", err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, "trailing data after response object", nil
	}

	var missing bool
	switch v := p.(type) {
	case *documentPayload:
		missing = v.Contacts == nil
	case *visualPayload:
		missing = v.Contacts == nil
	}
	if missing {
		return nil, "missing contacts", nil
	}

	for i, c := range p.contacts() {
		if strings.TrimSpace(c.Name) == "" {
			return nil, "contact " + strconv.Itoa(i) + " has no name", nil
		}
		if strings.TrimSpace(c.Role) == "" && strings.TrimSpace(c.Title) == "" {
			return nil, "contact " + strconv.Itoa(i) + " has no role", nil
		}
	}
	for i, m := range p.mentions() {
		if strings.TrimSpace(m.Agency) == "" {
			return nil, "competitor mention " + strconv.Itoa(i) + " has no agency", nil
		}
	}
	return p, "", nil
}

// cleanJSON strips code fences and anything outside the outermost object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// toContacts converts decoded contacts, merging repeats of the same person.
func toContacts(raw []rawContact, unit model.ContentUnit, tier model.Tier) []model.ContactRecord {
	var out []model.ContactRecord
	index := make(map[string]int)
	for _, rc := range raw {
		role := model.ParseRole(rc.Role)
		if role == model.RoleOther {
			role = model.ParseRole(rc.Title)
		}
		c := model.ContactRecord{
			Role:  role,
			Title: strings.TrimSpace(rc.Title),
			Name:  strings.Join(strings.Fields(rc.Name), " "),
			Phone: strings.TrimSpace(rc.Phone),
			Tier:  tier,
		}
		if email := strings.ToLower(strings.TrimSpace(rc.Email)); email != "" {
			c.Email = email
			c.EmailSource = model.EmailSourceExtracted
		}
		c.AddSource(unit.URL)

		if i, ok := index[c.Key()]; ok {
			out[i].Merge(c)
			continue
		}
		index[c.Key()] = len(out)
		out = append(out, c)
	}
	return out
}

// toHints turns mentions and transcribed text into analyzer input. A mention
// whose context does not name the agency gets the name prefixed so keyword
// matching still finds it.
func toHints(p payload, sourceURL string) []analysis.Hint {
	var hints []analysis.Hint
	for _, m := range p.mentions() {
		agency := strings.TrimSpace(m.Agency)
		text := strings.TrimSpace(m.Context)
		switch {
		case text == "":
			text = agency
		case !strings.Contains(strings.ToLower(text), strings.ToLower(agency)):
			text = agency + ": " + text
		}
		hints = append(hints, analysis.Hint{Text: text, SourceURL: sourceURL})
	}
	if extra := strings.TrimSpace(p.transcript()); extra != "" {
		hints = append(hints, analysis.Hint{Text: extra, SourceURL: sourceURL})
	}
	return hints
}

