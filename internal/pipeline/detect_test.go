package pipeline

import (
	"errors"
	"testing"

	"cardsmith/internal"
)

func TestDetectFormatByExtension(t *testing.T) {
	tests := map[string]internal.SourceFormat{
		"notes.txt":       internal.FormatPlain,
		"README.MD":       internal.FormatMarkdown,
		"paper.pdf":       internal.FormatPDF,
		"essay.docx":      internal.FormatDOCX,
		"deck.pptx":       internal.FormatPPTX,
		"terms.csv":       internal.FormatCSV,
		"book.xlsx":       internal.FormatXLSX,
		"page.htm":        internal.FormatHTML,
		"message.eml":     internal.FormatEmail,
		" spaced.html  ":  internal.FormatHTML,
		"archive.tar.csv": internal.FormatCSV,
	}
	for name, want := range tests {
		got, err := DetectFormat(name, nil)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Fatalf("%s: got %s want %s", name, got, want)
		}
	}

	if _, err := DetectFormat("legacy.doc", []byte("text")); !errors.Is(err, internal.ErrUnsupportedFormat) {
		t.Fatalf("err=%v", err)
	}
}

func TestDetectFormatBySniffing(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    internal.SourceFormat
	}{
		{"pdf", []byte("%PDF-1.7\n..."), internal.FormatPDF},
		{"html", []byte("  <!DOCTYPE html><html></html>"), internal.FormatHTML},
		{"email", []byte("MIME-Version: 1.0\r\nSubject: x\r\n\r\nbody"), internal.FormatEmail},
		{"text", []byte("just some notes"), internal.FormatPlain},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectFormat("upload", tc.content)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}

	t.Run("office zips", func(t *testing.T) {
		docx := mkZip(t, map[string]string{"word/document.xml": docxBody})
		if got, _ := DetectFormat("upload", docx); got != internal.FormatDOCX {
			t.Fatalf("docx sniffed as %s", got)
		}
		pptx := mkZip(t, map[string]string{"ppt/presentation.xml": "<p/>"})
		if got, _ := DetectFormat("upload", pptx); got != internal.FormatPPTX {
			t.Fatalf("pptx sniffed as %s", got)
		}
		other := mkZip(t, map[string]string{"data.bin": "x"})
		if _, err := DetectFormat("upload", other); !errors.Is(err, internal.ErrUnsupportedFormat) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("binary", func(t *testing.T) {
		if _, err := DetectFormat("upload", []byte{0xff, 0x00, 0xfe}); !errors.Is(err, internal.ErrUnsupportedFormat) {
			t.Fatalf("err=%v", err)
		}
	})
}

func TestParseFormatAliases(t *testing.T) {
	for tag, want := range map[string]internal.SourceFormat{"Word": internal.FormatDOCX, " md ": internal.FormatMarkdown, "slides": internal.FormatPPTX, "email": internal.FormatEmail} {
		got, err := ParseFormat(tag)
		if err != nil || got != want {
			t.Fatalf("%q: got %s err %v", tag, got, err)
		}
	}
	if _, err := ParseFormat("odt"); !errors.Is(err, internal.ErrUnsupportedFormat) {
		t.Fatalf("err=%v", err)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"\uFEFFa  \r\n\r\n\r\n b\t\n", "a\n\n b"},
		{"cafe\u0301", "caf\u00e9"},
		{"a\x00b\rc", "ab\nc"},
		{"\n\n  \n", ""},
	}
	for _, tc := range tests {
		if got := NormalizeText(tc.in); got != tc.want {
			t.Fatalf("NormalizeText(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}
