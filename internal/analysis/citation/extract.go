// Package citation turns retrieved chunks into the source list shown to users.
package citation

import (
	"strconv"

	"github.com/zhouzirui/freibot/backend/internal/model/document"
)

const (
	// MaxSources caps the citations attached to one answer.
	MaxSources = 5
	unknown    = "Unknown"
)

type sourceKey struct {
	filename string
	page     string
}

// Extract deduplicates chunks by (filename, page) keeping retrieval order and
// returns at most MaxSources citations. Missing fields become "Unknown".
func Extract(chunks []document.Chunk) []document.SourceCitation {
	seen := make(map[sourceKey]struct{}, len(chunks))
	sources := make([]document.SourceCitation, 0, min(len(chunks), MaxSources))

	for _, chunk := range chunks {
		c := FromMetadata(chunk.Metadata)
		key := sourceKey{filename: c.Filename, page: c.Page}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sources = append(sources, c)
		if len(sources) == MaxSources {
			break
		}
	}
	return sources
}

// FromMetadata builds a single citation.
func FromMetadata(meta document.Metadata) document.SourceCitation {
	page := unknown
	if meta.PageNumber > 0 {
		page = strconv.Itoa(meta.PageNumber)
	}
	return document.SourceCitation{
		Title:        orUnknown(meta.Title),
		DocumentType: orUnknown(meta.DocumentType),
		Year:         orUnknown(meta.Year),
		Page:         page,
		Filename:     orUnknown(meta.Filename),
	}
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
