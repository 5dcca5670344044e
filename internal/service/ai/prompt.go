package ai

import (
	"strings"

	"github.com/zhouzirui/freibot/backend/internal/analysis/history"
)

const (
	// DocumentContextLimit caps the retrieved text placed in a prompt, in characters.
	DocumentContextLimit = 6000

	instructionText = "Freiburg-Experte. Beantworte basierend auf Dokumenten und Gesprächskontext."
	closingText     = "Antworte präzise auf Deutsch. Nenne Quellen und Jahr."
)

// Section 是提示词中的一个有序片段。
type Section struct {
	Name    string
	Heading string
	Body    string
	// Limit truncates Body to this many characters; zero means unlimited.
	Limit int
	// Inline places Body on the heading line instead of below it.
	Inline bool
}

func (s Section) render() string {
	body := s.Body
	if s.Limit > 0 {
		body = history.TruncateRunes(body, s.Limit)
	}
	switch {
	case s.Heading == "":
		return body
	case s.Inline:
		return s.Heading + " " + body
	default:
		return s.Heading + "\n" + body
	}
}

// PromptBuilder assembles a prompt from ordered sections. Empty sections are
// skipped.
type PromptBuilder struct {
	sections []Section
}

// NewPromptBuilder returns an empty builder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// Add appends a section.
func (b *PromptBuilder) Add(s Section) *PromptBuilder {
	b.sections = append(b.sections, s)
	return b
}

// Sections returns the sections that will be rendered.
func (b *PromptBuilder) Sections() []Section {
	out := make([]Section, 0, len(b.sections))
	for _, s := range b.sections {
		if strings.TrimSpace(s.Body) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Build renders the sections separated by blank lines.
func (b *PromptBuilder) Build() string {
	sections := b.Sections()
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = s.render()
	}
	return strings.Join(parts, "\n\n")
}

// NewAnswerPrompt lays out the question-answering prompt: instruction,
// conversation, documents (joined by blank lines, cut to 6000 characters),
// question, closing instruction.
func NewAnswerPrompt(historyBlock string, documents []string, question string) *PromptBuilder {
	return NewPromptBuilder().
		Add(Section{Name: "instruction", Body: instructionText}).
		Add(Section{Name: "history", Heading: "GESPRÄCH:", Body: historyBlock}).
		Add(Section{Name: "documents", Heading: "DOKUMENTE:", Body: strings.Join(documents, "\n\n"), Limit: DocumentContextLimit}).
		Add(Section{Name: "question", Heading: "FRAGE:", Body: question, Inline: true}).
		Add(Section{Name: "closing", Body: closingText})
}
