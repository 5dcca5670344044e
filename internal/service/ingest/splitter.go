package ingest

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"unicode/utf8"

	einodoc "github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 300
)

// DefaultSeparators are tried in order: paragraphs, lines, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

var _ einodoc.Transformer = (*Splitter)(nil)

// Splitter cuts text into chunks of at most chunkSize characters, preferring
// to break on the coarsest separator available. Consecutive chunks share up
// to chunkOverlap characters.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter validates the sizes and returns a splitter.
func NewSplitter(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   DefaultSeparators,
	}, nil
}

// Transform splits each page into chunks. Metadata is copied onto every
// chunk and chunk IDs take the form "<filename>#p<page>#c<n>".
func (s *Splitter) Transform(ctx context.Context, src []*schema.Document, _ ...einodoc.TransformerOption) ([]*schema.Document, error) {
	out := make([]*schema.Document, 0, len(src))
	for _, doc := range src {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		meta := pageMetadata(doc)
		for n, text := range s.SplitText(doc.Content) {
			out = append(out, &schema.Document{
				ID:       fmt.Sprintf("%s#p%d#c%d", meta.Filename, meta.PageNumber, n),
				Content:  text,
				MetaData: maps.Clone(doc.MetaData),
			})
		}
	}
	return out, nil
}

// SplitText returns the non-empty chunks of text.
func (s *Splitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var (
		chunks []string
		good   []string
	)
	for _, piece := range splitOn(text, separator) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good, separator)...)
			good = nil
		}
		if len(next) == 0 {
			chunks = append(chunks, piece)
			continue
		}
		chunks = append(chunks, s.split(piece, next)...)
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good, separator)...)
	}
	return chunks
}

// merge packs pieces into chunks no longer than chunkSize, carrying the tail
// of each chunk (up to chunkOverlap characters) into the next one.
func (s *Splitter) merge(pieces []string, separator string) []string {
	sepLen := runeLen(separator)
	var (
		chunks  []string
		current []string
		total   int
	)
	joinedLen := func(extra int) int {
		if len(current) == 0 {
			return extra
		}
		return total + sepLen + extra
	}

	for _, piece := range pieces {
		l := runeLen(piece)
		if len(current) > 0 && joinedLen(l) > s.chunkSize {
			if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for len(current) > 0 && (total > s.chunkOverlap || joinedLen(l) > s.chunkSize) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		current = append(current, piece)
		if len(current) == 1 {
			total = l
		} else {
			total += sepLen + l
		}
	}
	if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func splitOn(text, separator string) []string {
	var parts []string
	if separator == "" {
		parts = make([]string, 0, len(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(text, separator)
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
