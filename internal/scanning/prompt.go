package scanning

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/zombor/cardscan/internal/contact"
)

// mediaMarker stands in for the image while the template renders. It cannot
// appear in field descriptions or in a validated media reference.
const mediaMarker = "\x00media\x00"

// OutputSchemaName names the structured output in provider requests
const OutputSchemaName = "contact_card"

const contactCardPrompt = `You are an expert assistant specializing in reading photos of handwritten contact cards. Analyze the image and extract the following information, if available:

{{range .Fields}}- {{.Name}}: {{.Description}}
{{end}}
Image: {{media .MediaRef}}

Respond with a single JSON object using exactly these keys: {{join .Names ", "}}.
Copy the text as written on the card. Do not guess or invent values.
If a field cannot be determined from the image, leave it blank by returning an empty string for it.`

var promptTemplate = template.Must(template.New("contact-card").
	Funcs(template.FuncMap{
		"media": func(string) string { return mediaMarker },
		"join":  strings.Join,
	}).
	Parse(contactCardPrompt))

// Segment is one ordered piece of a prompt: either text or a media reference
type Segment struct {
	Text     string
	MediaRef string
}

// IsMedia reports whether the segment is the image
func (s Segment) IsMedia() bool {
	return s.MediaRef != ""
}

// Prompt is the instruction payload sent to a model
type Prompt struct {
	Segments []Segment
	Fields   []contact.FieldSpec
}

// BuildPrompt renders the extraction instructions for req. The output depends
// only on its inputs.
func BuildPrompt(req ExtractionRequest, fields []contact.FieldSpec) (Prompt, error) {
	if err := req.Validate(); err != nil {
		return Prompt{}, err
	}
	if len(fields) == 0 {
		return Prompt{}, fmt.Errorf("building prompt: no fields to extract")
	}

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f.Name)
	}

	var b strings.Builder
	err := promptTemplate.Execute(&b, struct {
		Fields   []contact.FieldSpec
		Names    []string
		MediaRef string
	}{fields, names, req.MediaRef()})
	if err != nil {
		return Prompt{}, fmt.Errorf("rendering prompt: %w", err)
	}

	var segments []Segment
	parts := strings.Split(b.String(), mediaMarker)
	for i, part := range parts {
		if part != "" {
			segments = append(segments, Segment{Text: part})
		}
		if i < len(parts)-1 {
			segments = append(segments, Segment{MediaRef: req.MediaRef()})
		}
	}

	specs := make([]contact.FieldSpec, len(fields))
	copy(specs, fields)
	return Prompt{Segments: segments, Fields: specs}, nil
}

// Text returns the prompt text with media segments omitted
func (p Prompt) Text() string {
	var b strings.Builder
	for _, s := range p.Segments {
		if !s.IsMedia() {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// String returns the full instruction payload with media references inline
func (p Prompt) String() string {
	var b strings.Builder
	for _, s := range p.Segments {
		if s.IsMedia() {
			b.WriteString(s.MediaRef)
		} else {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// MediaRefs returns the media references in prompt order
func (p Prompt) MediaRefs() []string {
	var refs []string
	for _, s := range p.Segments {
		if s.IsMedia() {
			refs = append(refs, s.MediaRef)
		}
	}
	return refs
}

// OutputSchema returns the JSON schema the response must follow
func (p Prompt) OutputSchema(strict bool) map[string]any {
	return contact.SchemaFor(p.Fields, strict)
}
