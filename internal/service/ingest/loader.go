package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	einodoc "github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"

	"github.com/zhouzirui/freibot/backend/internal/analysis/docmeta"
	"github.com/zhouzirui/freibot/backend/internal/model/document"
)

var _ einodoc.Loader = (*PDFLoader)(nil)

// PDFLoader reads a PDF file into one document per non-empty page. Every page
// carries the publication metadata derived from the filename plus its
// 1-based page number and the total page count.
type PDFLoader struct{}

// NewPDFLoader returns a loader.
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// Load opens src.URI as a local path.
func (l *PDFLoader) Load(ctx context.Context, src einodoc.Source, _ ...einodoc.LoaderOption) ([]*schema.Document, error) {
	file, err := os.Open(src.URI)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat pdf: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parse pdf %s: %w", filepath.Base(src.URI), err)
	}

	base := docmeta.FromFilename(filepath.Base(src.URI))
	total := reader.NumPage()
	docs := make([]*schema.Document, 0, total)

	for pageIndex := 1; pageIndex <= total; pageIndex++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		meta := base
		meta.PageNumber = pageIndex
		meta.TotalPages = total
		docs = append(docs, &schema.Document{
			ID:       fmt.Sprintf("%s#p%d", base.Filename, pageIndex),
			Content:  text,
			MetaData: meta.ToMap(),
		})
	}
	return docs, nil
}

// pageMetadata is a shortcut used by the splitter.
func pageMetadata(doc *schema.Document) document.Metadata {
	return document.MetadataFromMap(doc.MetaData)
}
