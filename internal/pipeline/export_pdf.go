package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"cardsmith/internal"
)

type PDFStyle string

const (
	StyleClassic    PDFStyle = "Classic"
	StyleModern     PDFStyle = "Modern"
	StyleMinimalist PDFStyle = "Minimalist"
	StyleColorful   PDFStyle = "Colorful"
)

type PDFOptions struct {
	Title    string
	Style    PDFStyle
	Font     string
	FontSize float64
}

type rgb struct{ r, g, b int }

type pdfPalette struct {
	background rgb
	border     rgb
	question   rgb
	answer     rgb
}

var pdfPalettes = map[PDFStyle]pdfPalette{
	StyleClassic:    {background: rgb{250, 250, 250}, border: rgb{180, 180, 180}, question: rgb{33, 33, 33}, answer: rgb{85, 85, 85}},
	StyleModern:     {background: rgb{245, 245, 245}, border: rgb{33, 150, 243}, question: rgb{33, 150, 243}, answer: rgb{85, 85, 85}},
	StyleMinimalist: {background: rgb{255, 255, 255}, border: rgb{200, 200, 200}, question: rgb{0, 0, 0}, answer: rgb{85, 85, 85}},
	StyleColorful:   {background: rgb{240, 248, 255}, border: rgb{33, 150, 243}, question: rgb{156, 39, 176}, answer: rgb{0, 150, 136}},
}

func (o PDFOptions) normalized() PDFOptions {
	if _, ok := pdfPalettes[o.Style]; !ok {
		o.Style = StyleClassic
	}
	if o.Font != "Arial" && o.Font != "Times" {
		o.Font = "Arial"
	}
	if o.FontSize < 6 || o.FontSize > 36 {
		o.FontSize = 12
	}
	if strings.TrimSpace(o.Title) == "" {
		o.Title = "My Flashcards"
	}
	return o
}

// WriteCardsPDF renders one block per card: a numbered heading, the question
// and the answer, colored by the chosen style.
func WriteCardsPDF(w io.Writer, cards []internal.Flashcard, opts PDFOptions) error {
	opts = opts.normalized()
	palette := pdfPalettes[opts.Style]
	lineHeight := opts.FontSize * 0.6

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(opts.Title, true)
	pdf.SetAuthor("cardsmith", false)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont(opts.Font, "B", opts.FontSize+6)
	pdf.SetTextColor(33, 150, 243)
	pdf.CellFormat(0, 20, tr(opts.Title), "", 1, "C", false, 0, "")
	pdf.Ln(10)

	for i, card := range cards {
		pdf.SetFillColor(palette.background.r, palette.background.g, palette.background.b)
		pdf.SetDrawColor(palette.border.r, palette.border.g, palette.border.b)
		pdf.Line(10, pdf.GetY(), 200, pdf.GetY())
		pdf.Ln(5)

		pdf.SetFont(opts.Font, "B", opts.FontSize)
		pdf.SetTextColor(palette.question.r, palette.question.g, palette.question.b)
		pdf.CellFormat(0, lineHeight+4, fmt.Sprintf("Card %d", i+1), "", 1, "L", false, 0, "")

		pdf.MultiCell(0, lineHeight+4, "Question:", "", "L", true)
		pdf.SetFont(opts.Font, "", opts.FontSize)
		pdf.MultiCell(0, lineHeight+4, tr(card.Question), "", "L", false)
		pdf.Ln(5)

		pdf.SetFont(opts.Font, "B", opts.FontSize)
		pdf.SetTextColor(palette.answer.r, palette.answer.g, palette.answer.b)
		pdf.MultiCell(0, lineHeight+4, "Answer:", "", "L", true)
		pdf.SetFont(opts.Font, "", opts.FontSize)
		pdf.MultiCell(0, lineHeight+4, tr(card.Answer), "", "L", false)
		pdf.Ln(10)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
