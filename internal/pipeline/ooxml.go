package pipeline

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var reSlidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func openZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("missing part %s", name)
}

// extractDOCX returns paragraph text in document order followed by table rows,
// one row per line with cells separated by " | ".
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}
	part, err := openZipPart(zr, "word/document.xml")
	if err != nil {
		return "", err
	}

	var (
		paragraphs []string
		tableRows  []string
		row        []string
		para       strings.Builder
		cell       strings.Builder
		tableDepth int
		inRun      bool
		inText     bool
	)
	current := func() *strings.Builder {
		if tableDepth > 0 {
			return &cell
		}
		return &para
	}

	dec := xml.NewDecoder(bytes.NewReader(part))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth == 1 {
					row = row[:0]
				}
			case "tc":
				if tableDepth == 1 {
					cell.Reset()
				}
			case "r":
				inRun = true
			case "t":
				inText = inRun
			case "tab":
				if inRun {
					current().WriteString("\t")
				}
			case "br", "cr":
				if inRun {
					current().WriteString("\n")
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "r":
				inRun = false
			case "p":
				if tableDepth > 0 {
					cell.WriteString(" ")
					continue
				}
				if text := strings.TrimSpace(para.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
				para.Reset()
			case "tc":
				if tableDepth == 1 {
					row = append(row, normalizeSpaces(cell.String()))
				}
			case "tr":
				if tableDepth == 1 {
					if line := joinNonEmpty(row, " | "); line != "" {
						tableRows = append(tableRows, line)
					}
				}
			case "tbl":
				tableDepth--
			}
		case xml.CharData:
			if inText {
				current().Write(t)
			}
		}
	}

	return strings.Join(append(paragraphs, tableRows...), "\n"), nil
}

type slideShape struct {
	title      bool
	paragraphs []string
}

// extractPPTX walks slides in numeric order. Within a slide the title
// placeholder comes first, then every other shape in document order.
func extractPPTX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	type slidePart struct {
		num  int
		file *zip.File
	}
	var slides []slidePart
	for _, f := range zr.File {
		m := reSlidePart.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slidePart{num: n, file: f})
	}
	if len(slides) == 0 {
		if _, err := openZipPart(zr, "ppt/presentation.xml"); err != nil {
			return "", err
		}
		return "", nil
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	out := make([]string, 0, len(slides))
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", err
		}
		text, err := slideText(data)
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.num, err)
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return strings.Join(out, "\n\n"), nil
}

func slideText(data []byte) (string, error) {
	var (
		shapes     []slideShape
		cur        *slideShape
		para       strings.Builder
		shapeDepth int
		inText     bool
	)

	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sp", "graphicFrame":
				shapeDepth++
				if shapeDepth == 1 {
					cur = &slideShape{}
				}
			case "ph":
				if cur != nil {
					for _, a := range t.Attr {
						if a.Name.Local == "type" && (a.Value == "title" || a.Value == "ctrTitle") {
							cur.title = true
						}
					}
				}
			case "t":
				inText = cur != nil
			case "br":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if cur != nil {
					if text := strings.TrimSpace(para.String()); text != "" {
						cur.paragraphs = append(cur.paragraphs, text)
					}
				}
				para.Reset()
			case "sp", "graphicFrame":
				if shapeDepth == 1 && cur != nil && len(cur.paragraphs) > 0 {
					shapes = append(shapes, *cur)
				}
				shapeDepth--
				if shapeDepth == 0 {
					cur = nil
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}

	lines := []string{}
	for _, sh := range shapes {
		if sh.title {
			lines = append(lines, sh.paragraphs...)
		}
	}
	for _, sh := range shapes {
		if !sh.title {
			lines = append(lines, sh.paragraphs...)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func joinNonEmpty(parts []string, sep string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
