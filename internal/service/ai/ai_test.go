package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoModel struct {
	lastPrompt string
	err        error
}

func (m *echoModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lastPrompt = input[len(input)-1].Content
	return schema.AssistantMessage("Antwort", nil), nil
}

func (m *echoModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.lastPrompt = input[len(input)-1].Content
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("Ant", nil),
		schema.AssistantMessage("wort", nil),
	}), nil
}

func (m *echoModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestGeneratePassesPromptVerbatim(t *testing.T) {
	m := &echoModel{}
	svc, err := NewServiceWithModel(context.Background(), m, true)
	require.NoError(t, err)

	// Braces in the prompt must not be treated as template placeholders.
	answer, err := svc.Generate(context.Background(), "FRAGE: {x} Einwohner?")
	require.NoError(t, err)
	assert.Equal(t, "Antwort", answer)
	assert.Equal(t, "FRAGE: {x} Einwohner?", m.lastPrompt)
}

func TestGenerateError(t *testing.T) {
	svc, err := NewServiceWithModel(context.Background(), &echoModel{err: errors.New("boom")}, false)
	require.NoError(t, err)
	_, err = svc.Generate(context.Background(), "x")
	assert.Error(t, err)
}

func TestStream(t *testing.T) {
	svc, err := NewServiceWithModel(context.Background(), &echoModel{}, true)
	require.NoError(t, err)

	stream, err := svc.Stream(context.Background(), "x")
	require.NoError(t, err)
	defer stream.Close()

	var sb strings.Builder
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sb.WriteString(msg.Content)
	}
	assert.Equal(t, "Antwort", sb.String())

	disabled, _ := NewServiceWithModel(context.Background(), &echoModel{}, false)
	_, err = disabled.Stream(context.Background(), "x")
	assert.Error(t, err)
}

func TestAnswerPromptLayout(t *testing.T) {
	prompt := NewAnswerPrompt("F: Hallo\nA: Hi", []string{"Doc eins", "Doc zwei"}, "Wie viele Einwohner?").Build()

	want := strings.Join([]string{
		"Freiburg-Experte. Beantworte basierend auf Dokumenten und Gesprächskontext.",
		"GESPRÄCH:\nF: Hallo\nA: Hi",
		"DOKUMENTE:\nDoc eins\n\nDoc zwei",
		"FRAGE: Wie viele Einwohner?",
		"Antworte präzise auf Deutsch. Nenne Quellen und Jahr.",
	}, "\n\n")
	assert.Equal(t, want, prompt)
}

func TestAnswerPromptOmitsEmptyHistory(t *testing.T) {
	b := NewAnswerPrompt("", []string{"Doc"}, "Frage?")
	names := make([]string, 0, 4)
	for _, s := range b.Sections() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"instruction", "documents", "question", "closing"}, names)
	assert.NotContains(t, b.Build(), "GESPRÄCH")
}

func TestAnswerPromptTruncatesDocuments(t *testing.T) {
	docs := []string{strings.Repeat("ö", 5000), strings.Repeat("ä", 5000)}
	b := NewAnswerPrompt("", docs, "Frage?")

	var documents Section
	for _, s := range b.Sections() {
		if s.Name == "documents" {
			documents = s
		}
	}
	rendered := documents.render()
	body := strings.TrimPrefix(rendered, "DOKUMENTE:\n")
	assert.Equal(t, DocumentContextLimit, utf8.RuneCountInString(body))
	assert.True(t, utf8.ValidString(body))
	assert.True(t, strings.HasSuffix(b.Build(), closingText))
}
