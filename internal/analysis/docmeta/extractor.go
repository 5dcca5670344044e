// Package docmeta derives publication metadata from FRITZ report filenames.
package docmeta

import (
	"strings"
	"unicode"

	"github.com/zhouzirui/freibot/backend/internal/model/document"
)

// Category 表示出版物的类型标签。
type Category string

const (
	Wahlanalyse           Category = "Wahlanalyse"
	Buergerumfrage        Category = "Bürgerumfrage"
	Sozialbericht         Category = "Sozialbericht"
	StatistischerBericht  Category = "Statistischer Bericht"
	Stadtbezirksatlas     Category = "Stadtbezirksatlas"
	UnknownYear                    = "unknown"
	pdfExtension                   = ".pdf"
	filenamePartSeparator          = "_"
)

type categoryRule struct {
	category Category
	keywords []string
}

// Rules are checked in order; the first matching keyword wins.
var categoryRules = []categoryRule{
	{category: Wahlanalyse, keywords: []string{"wahl"}},
	{category: Buergerumfrage, keywords: []string{"umfrage"}},
	{category: Sozialbericht, keywords: []string{"sozialbericht"}},
	{category: StatistischerBericht, keywords: []string{"jahrbuch", "jahresbericht"}},
	{category: Stadtbezirksatlas, keywords: []string{"atlas"}},
}

// FromFilename 根据文件名推断标题、类型与年份。
func FromFilename(filename string) document.Metadata {
	base := trimPDFExtension(filename)

	return document.Metadata{
		Filename:     filename,
		Title:        strings.ReplaceAll(base, filenamePartSeparator, " "),
		DocumentType: string(Classify(filename)),
		Year:         Year(base),
		Source:       document.DefaultSource,
	}
}

// Classify maps a filename to its publication category.
func Classify(filename string) Category {
	lower := strings.ToLower(filename)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return StatistischerBericht
}

// Year returns the first underscore-separated token made of exactly four
// digits, or "unknown".
func Year(name string) string {
	for _, part := range strings.Split(trimPDFExtension(name), filenamePartSeparator) {
		if isFourDigits(part) {
			return part
		}
	}
	return UnknownYear
}

func trimPDFExtension(name string) string {
	if strings.HasSuffix(strings.ToLower(name), pdfExtension) {
		return name[:len(name)-len(pdfExtension)]
	}
	return name
}

func isFourDigits(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
