package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"cardsmith/internal"
)

// ExportCards writes cards to outputPath, choosing the format from the
// extension: .xlsx, .pdf or .apkg.
func ExportCards(cards []internal.Flashcard, deckName, outputPath string, opts PDFOptions) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".xlsx":
		err = WriteCardsXLSX(f, deckName, cards)
	case ".pdf":
		if opts.Title == "" {
			opts.Title = deckName
		}
		err = WriteCardsPDF(f, cards, opts)
	case ".apkg":
		err = WriteAnkiPackage(f, deckName, cards)
	default:
		err = fmt.Errorf("unsupported export format: %s", filepath.Ext(outputPath))
	}

	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(outputPath)
		return err
	}
	return closeErr
}

// WriteCardsXLSX writes one row per card under a header row. The sheet is
// named after the deck when the name is a valid sheet name.
func WriteCardsXLSX(w io.Writer, deckName string, cards []internal.Flashcard) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if name := sheetName(deckName); name != "" && name != sheet {
		if err := f.SetSheetName(sheet, name); err == nil {
			sheet = name
		}
	}

	headers := []string{"#", "question", "answer"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, card := range cards {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, i+1)
		set(2, card.Question)
		set(3, card.Answer)
	}
	_ = f.SetColWidth(sheet, "B", "C", 60)

	_, err := f.WriteTo(w)
	return err
}

func sheetName(deckName string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return ' '
		}
		return r
	}, strings.TrimSpace(deckName))
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	return name
}
