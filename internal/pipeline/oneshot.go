package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cardsmith/internal"
)

// LoadSourceDocument reads a local file. declared overrides format detection
// when non-empty.
func LoadSourceDocument(path, declared string) (internal.SourceDocument, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return internal.SourceDocument{}, fmt.Errorf("read %s: %w", path, err)
	}

	name := filepath.Base(path)
	var format internal.SourceFormat
	if strings.TrimSpace(declared) != "" {
		format, err = ParseFormat(declared)
	} else {
		format, err = DetectFormat(name, content)
	}
	if err != nil {
		return internal.SourceDocument{}, err
	}

	return internal.SourceDocument{Name: name, Format: format, Content: content}, nil
}
