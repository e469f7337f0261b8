package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/protocol-education/school-intel/internal/cost"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/pkg/anthropic"
)

const systemText = `You extract staff contact details from UK school websites and documents for a teacher recruitment agency.
Only report people who are named in the material. Never guess names, email addresses or phone numbers.
Roles: headteacher, deputy_head, assistant_head, business_manager, senco, other.
Return exactly one JSON object matching the schema in the request and nothing else.`

const documentSchema = `{
  "contacts": [{"role": "<role>", "title": "<job title as written>", "name": "<full name>", "email": "<address or omit>", "phone": "<number as written or omit>"}],
  "competitor_mentions": [{"agency": "<recruitment or supply agency name>", "context": "<sentence that mentions it>"}],
  "inspection_findings": ["<Ofsted areas for improvement, quoted>"]
}`

const visualSchema = `{
  "contacts": [{"role": "<role>", "title": "<job title as written>", "name": "<full name>", "email": "<address or omit>", "phone": "<number as written or omit>"}],
  "competitor_mentions": [{"agency": "<recruitment or supply agency name>", "context": "<sentence that mentions it>"}],
  "visible_text": "<other legible text about staffing, vacancies or inspections>"
}`

const documentPrompt = `School: %s
Source: %s (%s)

Output JSON schema:
%s

Use an empty contacts array if nobody is named. Omit unknown fields.

Content:
%s`

const visualPrompt = `School: %s
Source: %s (%s)

The attached %s is the source. Read it, including any staff photos with captions.

Output JSON schema:
%s

Use an empty contacts array if nobody is named. Omit unknown fields.`

// buildMessage builds the user message for unit. Text content is capped at
// cost.MaxTextChars so the call matches its estimate.
func buildMessage(school string, unit model.ContentUnit) (anthropic.Message, error) {
	switch unit.Class {
	case model.ClassHTML, model.ClassPDFText:
		text := unit.Text
		if len(text) > cost.MaxTextChars {
			text = truncateUTF8(text, cost.MaxTextChars)
		}
		if strings.TrimSpace(text) == "" {
			return anthropic.Message{}, eris.Errorf("extract: unit %s has no text", unit.URL)
		}
		return anthropic.Message{
			Role:    "user",
			Content: fmt.Sprintf(documentPrompt, school, unit.URL, unit.Class, documentSchema, text),
		}, nil

	case model.ClassPDFImage:
		if len(unit.Data) == 0 {
			return anthropic.Message{}, eris.Errorf("extract: unit %s has no data", unit.URL)
		}
		return anthropic.Message{
			Role:        "user",
			Content:     fmt.Sprintf(visualPrompt, school, unit.URL, unit.Class, "PDF", visualSchema),
			Attachments: []anthropic.Attachment{{Kind: anthropic.AttachPDF, Data: unit.Data}},
		}, nil

	case model.ClassImage:
		if len(unit.Data) == 0 {
			return anthropic.Message{}, eris.Errorf("extract: unit %s has no data", unit.URL)
		}
		mediaType := unit.MediaType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		return anthropic.Message{
			Role:        "user",
			Content:     fmt.Sprintf(visualPrompt, school, unit.URL, unit.Class, "image", visualSchema),
			Attachments: []anthropic.Attachment{{Kind: anthropic.AttachImage, MediaType: mediaType, Data: unit.Data}},
		}, nil
	}
	return anthropic.Message{}, eris.Errorf("extract: unsupported classification %q", unit.Class)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
