package pipeline

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"cardsmith/internal"
)

var extensionFormats = map[string]internal.SourceFormat{
	".txt":      internal.FormatPlain,
	".text":     internal.FormatPlain,
	".md":       internal.FormatMarkdown,
	".markdown": internal.FormatMarkdown,
	".pdf":      internal.FormatPDF,
	".docx":     internal.FormatDOCX,
	".pptx":     internal.FormatPPTX,
	".csv":      internal.FormatCSV,
	".xlsx":     internal.FormatXLSX,
	".html":     internal.FormatHTML,
	".htm":      internal.FormatHTML,
	".eml":      internal.FormatEmail,
}

var formatAliases = map[string]internal.SourceFormat{
	"plain":      internal.FormatPlain,
	"text":       internal.FormatPlain,
	"txt":        internal.FormatPlain,
	"markdown":   internal.FormatMarkdown,
	"md":         internal.FormatMarkdown,
	"pdf":        internal.FormatPDF,
	"docx":       internal.FormatDOCX,
	"word":       internal.FormatDOCX,
	"pptx":       internal.FormatPPTX,
	"slides":     internal.FormatPPTX,
	"csv":        internal.FormatCSV,
	"tabular":    internal.FormatCSV,
	"xlsx":       internal.FormatXLSX,
	"html":       internal.FormatHTML,
	"eml":        internal.FormatEmail,
	"email":      internal.FormatEmail,
	"transcript": internal.FormatTranscript,
}

// ParseFormat resolves a declared format tag such as "word" or "md".
func ParseFormat(tag string) (internal.SourceFormat, error) {
	f, ok := formatAliases[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return "", internal.NewError(internal.StageNormalize, internal.KindUnsupportedFormat, fmt.Sprintf("unsupported format: %s", tag), nil)
	}
	return f, nil
}

// DetectFormat picks a format from the filename extension, sniffing the content
// only when the name carries no extension.
func DetectFormat(filename string, content []byte) (internal.SourceFormat, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if ext != "" {
		if f, ok := extensionFormats[ext]; ok {
			return f, nil
		}
		return "", internal.NewError(internal.StageNormalize, internal.KindUnsupportedFormat, fmt.Sprintf("unsupported file type: %s", ext), nil)
	}
	if f, ok := sniffFormat(content); ok {
		return f, nil
	}
	return "", internal.NewError(internal.StageNormalize, internal.KindUnsupportedFormat, "could not determine document format", nil)
}

func sniffFormat(content []byte) (internal.SourceFormat, bool) {
	if len(content) == 0 {
		return internal.FormatPlain, true
	}
	if bytes.HasPrefix(content, []byte("%PDF-")) {
		return internal.FormatPDF, true
	}
	if bytes.HasPrefix(content, []byte("PK\x03\x04")) {
		return sniffZip(content)
	}

	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	lower := strings.ToLower(strings.TrimSpace(string(bytes.TrimPrefix(head, []byte("\xEF\xBB\xBF")))))
	if strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html") {
		return internal.FormatHTML, true
	}
	for _, h := range []string{"mime-version:", "received:", "return-path:", "message-id:"} {
		if strings.HasPrefix(lower, h) {
			return internal.FormatEmail, true
		}
	}
	if utf8.Valid(content) {
		return internal.FormatPlain, true
	}
	return "", false
}

func sniffZip(content []byte) (internal.SourceFormat, bool) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", false
	}
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			return internal.FormatDOCX, true
		case f.Name == "ppt/presentation.xml":
			return internal.FormatPPTX, true
		case f.Name == "xl/workbook.xml":
			return internal.FormatXLSX, true
		}
	}
	return "", false
}
