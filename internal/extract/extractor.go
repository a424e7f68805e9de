// Package extract turns uploaded document binaries into plain text so they
// can ride along as chat context.
package extract

import (
	"fmt"
	"mime"
	"path"
	"strings"
)

// Extractor extracts text from document content for prompt assembly.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractBytes extracts text from content. contentType takes priority when
// recognized; otherwise the extension of name decides. Spreadsheets come
// back as tab-separated rows grouped under sheet headers, PDFs as page text,
// everything else as UTF-8 validated plain text.
func (e *Extractor) ExtractBytes(content []byte, name, contentType string) (string, error) {
	switch normalizeType(contentType) {
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return extractExcel(content)
	case "application/pdf":
		return extractPDF(content)
	case "text/plain", "text/csv", "text/markdown":
		return extractPlain(content)
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx":
		return extractExcel(content)
	case ".pdf":
		return extractPDF(content)
	case ".txt", ".csv", ".md", "":
		return extractPlain(content)
	default:
		return "", fmt.Errorf("unsupported document type %q for %q", contentType, name)
	}
}

func normalizeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mt
}
