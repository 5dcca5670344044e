package document

import (
	"strconv"

	"github.com/cloudwego/eino/schema"
)

// DefaultSource is the publisher recorded on every ingested page.
const DefaultSource = "fritz.freiburg.de"

// Metadata keys used on schema.Document.MetaData.
const (
	KeyFilename     = "filename"
	KeyTitle        = "title"
	KeyDocumentType = "document_type"
	KeyYear         = "year"
	KeySource       = "source"
	KeyPageNumber   = "page_number"
	KeyTotalPages   = "total_pages"
)

// Metadata describes the publication a chunk was cut from.
type Metadata struct {
	Filename     string `json:"filename"`
	Title        string `json:"title"`
	DocumentType string `json:"document_type"`
	Year         string `json:"year"`
	Source       string `json:"source"`
	// PageNumber is 1-based; 0 means unknown.
	PageNumber int `json:"page_number"`
	TotalPages int `json:"total_pages"`
}

// Chunk is a piece of publication text as stored in and returned by the index.
type Chunk struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Score    float64  `json:"score,omitempty"`
}

// SourceCitation is the user-facing reference to a publication page.
type SourceCitation struct {
	Title        string `json:"title"`
	DocumentType string `json:"document_type"`
	Year         string `json:"year"`
	Page         string `json:"page"`
	Filename     string `json:"filename"`
}

// ToMap flattens metadata into the key space used by schema.Document.
func (m Metadata) ToMap() map[string]any {
	out := map[string]any{
		KeyFilename:     m.Filename,
		KeyTitle:        m.Title,
		KeyDocumentType: m.DocumentType,
		KeyYear:         m.Year,
		KeySource:       m.Source,
	}
	if m.PageNumber > 0 {
		out[KeyPageNumber] = m.PageNumber
	}
	if m.TotalPages > 0 {
		out[KeyTotalPages] = m.TotalPages
	}
	return out
}

// MetadataFromMap is the inverse of ToMap. Missing keys stay zero.
func MetadataFromMap(meta map[string]any) Metadata {
	return Metadata{
		Filename:     stringValue(meta[KeyFilename]),
		Title:        stringValue(meta[KeyTitle]),
		DocumentType: stringValue(meta[KeyDocumentType]),
		Year:         stringValue(meta[KeyYear]),
		Source:       stringValue(meta[KeySource]),
		PageNumber:   intValue(meta[KeyPageNumber]),
		TotalPages:   intValue(meta[KeyTotalPages]),
	}
}

// ToSchema converts a chunk into an eino document.
func (c Chunk) ToSchema() *schema.Document {
	doc := &schema.Document{
		ID:       c.ID,
		Content:  c.Text,
		MetaData: c.Metadata.ToMap(),
	}
	if c.Score != 0 {
		doc = doc.WithScore(c.Score)
	}
	return doc
}

// FromSchema converts an eino document into a chunk.
func FromSchema(doc *schema.Document) Chunk {
	if doc == nil {
		return Chunk{}
	}
	return Chunk{
		ID:       doc.ID,
		Text:     doc.Content,
		Metadata: MetadataFromMap(doc.MetaData),
		Score:    doc.Score(),
	}
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case nil:
		return ""
	default:
		return ""
	}
}

func intValue(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		// JSON round trips decode numbers as float64.
		return int(val)
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
