package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"cardsmith/internal"
)

// Normalize converts a document in the given format into plain text. The
// result is never empty: blank documents fail with an empty-content error.
func Normalize(content []byte, format internal.SourceFormat) (string, error) {
	text, err := extractText(content, format)
	if err != nil {
		return "", err
	}
	text = NormalizeText(text)
	if text == "" {
		return "", internal.NewError(internal.StageNormalize, internal.KindEmptyContent, "document contains no text", nil)
	}
	return text, nil
}

// NormalizeDocument resolves the document format (declared or detected) and
// normalizes it.
func NormalizeDocument(doc internal.SourceDocument) (string, error) {
	format := doc.Format
	if format == "" {
		detected, err := DetectFormat(doc.Name, doc.Content)
		if err != nil {
			return "", err
		}
		format = detected
	}
	return Normalize(doc.Content, format)
}

func extractText(content []byte, format internal.SourceFormat) (string, error) {
	var (
		text string
		err  error
	)
	switch format {
	case internal.FormatPlain, internal.FormatMarkdown, internal.FormatTranscript:
		return decodeUTF8(content)
	case internal.FormatCSV:
		return extractCSV(content)
	case internal.FormatEmail:
		doc, err := ReadEmail(content)
		if err != nil {
			return "", err
		}
		return doc.Text, nil
	case internal.FormatPDF:
		text, err = extractPDF(content)
	case internal.FormatDOCX:
		text, err = extractDOCX(content)
	case internal.FormatPPTX:
		text, err = extractPPTX(content)
	case internal.FormatXLSX:
		text, err = extractXLSX(content)
	case internal.FormatHTML:
		text, err = extractHTML(string(content))
	default:
		return "", internal.NewError(internal.StageNormalize, internal.KindUnsupportedFormat, fmt.Sprintf("unsupported format: %s", format), nil)
	}
	if err != nil {
		return "", internal.NewError(internal.StageNormalize, internal.KindCorruptDocument, fmt.Sprintf("cannot read %s document", format), err)
	}
	return text, nil
}

func decodeUTF8(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, []byte("\xEF\xBB\xBF"))
	if !utf8.Valid(content) {
		return "", internal.NewError(internal.StageNormalize, internal.KindDecodeError, "text is not valid UTF-8", nil)
	}
	return string(content), nil
}

// extractCSV joins each row's cells with a space, one row per line.
func extractCSV(content []byte) (string, error) {
	text, err := decodeUTF8(content)
	if err != nil {
		return "", err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	lines := []string{}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", internal.NewError(internal.StageNormalize, internal.KindCorruptDocument, "cannot read csv document", err)
		}
		if line := joinNonEmpty(record, " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// extractPDF returns page text in page order. The pdf reader panics on some
// malformed inputs, so panics are reported as errors.
func extractPDF(content []byte) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("pdf reader panic: %v", rec)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	return joinPages(r.NumPage(), func(i int) (string, bool, error) {
		p := r.Page(i)
		if p.V.IsNull() {
			return "", false, nil
		}
		pageText, err := p.GetPlainText(nil)
		return pageText, true, err
	})
}

// joinPages reads pages 1..n. Unreadable pages are logged and skipped; the
// document fails only when no page could be read.
func joinPages(n int, read func(page int) (text string, ok bool, err error)) (string, error) {
	pages := make([]string, 0, n)
	failed := 0
	var lastErr error
	for i := 1; i <= n; i++ {
		text, ok, err := read(i)
		if err != nil {
			failed++
			lastErr = err
			slog.Warn("normalize.pdf.page_error", "page", i, "pages", n, "error", err)
			continue
		}
		if ok {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 && failed > 0 {
		return "", fmt.Errorf("none of %d pages readable: %w", n, lastErr)
	}
	return strings.Join(pages, "\n"), nil
}

// extractXLSX emits every sheet, one line per non-empty row.
func extractXLSX(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	defer f.Close()

	lines := []string{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			if line := joinNonEmpty(row, " "); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

var htmlBlockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "header": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "ul": true, "ol": true, "tr": true, "table": true, "blockquote": true,
	"pre": true, "dt": true, "dd": true, "figcaption": true, "main": true, "aside": true,
}

// extractHTML returns the visible text of the body, one block element per line.
func extractHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script,style,noscript,template,head").Remove()

	var b strings.Builder
	writeHTMLText(doc.Selection, &b)
	return strings.Join(splitLines(b.String()), "\n"), nil
}

func writeHTMLText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch {
		case name == "#text":
			b.WriteString(normalizeSpaces(s.Text()))
			b.WriteString(" ")
		case name == "br":
			b.WriteString("\n")
		case name == "td" || name == "th":
			writeHTMLText(s, b)
			b.WriteString(" ")
		case htmlBlockTags[name]:
			b.WriteString("\n")
			writeHTMLText(s, b)
			b.WriteString("\n")
		case strings.HasPrefix(name, "#"):
			// comment nodes
		default:
			writeHTMLText(s, b)
		}
	})
}

type EmailDocument struct {
	Subject         string
	From            string
	Text            string
	AttachmentNames []string
}

// ReadEmail parses a raw RFC 5322 message. The text is the message body
// followed by the text of every attachment in a supported format; attachments
// that cannot be read are skipped.
func ReadEmail(raw []byte) (EmailDocument, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return EmailDocument{}, internal.NewError(internal.StageNormalize, internal.KindCorruptDocument, "cannot read email message", err)
	}

	parts := []string{}
	body := env.Text
	if strings.TrimSpace(body) == "" && env.HTML != "" {
		if htmlText, err := extractHTML(env.HTML); err == nil {
			body = htmlText
		}
	}
	if strings.TrimSpace(body) != "" {
		parts = append(parts, body)
	}

	names := make([]string, 0, len(env.Attachments))
	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		names = append(names, filename)

		format, err := DetectFormat(filename, att.Content)
		if err != nil || format == internal.FormatEmail {
			continue
		}
		text, err := extractText(att.Content, format)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, text)
	}

	return EmailDocument{
		Subject:         env.GetHeader("Subject"),
		From:            env.GetHeader("From"),
		Text:            strings.Join(parts, "\n\n"),
		AttachmentNames: names,
	}, nil
}
