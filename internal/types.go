package internal

import (
	"fmt"
	"strings"
)

const (
	MinCards = 1
	MaxCards = 20
)

type SourceFormat string

const (
	FormatPlain      SourceFormat = "plain"
	FormatMarkdown   SourceFormat = "markdown"
	FormatPDF        SourceFormat = "pdf"
	FormatDOCX       SourceFormat = "docx"
	FormatPPTX       SourceFormat = "pptx"
	FormatCSV        SourceFormat = "csv"
	FormatXLSX       SourceFormat = "xlsx"
	FormatHTML       SourceFormat = "html"
	FormatEmail      SourceFormat = "eml"
	FormatTranscript SourceFormat = "transcript"
)

// ReplyMode is the textual convention a deployment asks the model to answer in.
type ReplyMode string

const (
	ModeLabelPair  ReplyMode = "label-pair"
	ModeStructured ReplyMode = "structured"
)

func ParseReplyMode(value string) (ReplyMode, error) {
	switch ReplyMode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeLabelPair, "label", "labels":
		return ModeLabelPair, nil
	case ModeStructured, "json":
		return ModeStructured, nil
	default:
		return "", fmt.Errorf("unsupported reply mode: %s", value)
	}
}

// Flashcard is a question/answer pair. Construct it with NewFlashcard so both
// fields are guaranteed non-empty.
type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func NewFlashcard(question, answer string) (Flashcard, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return Flashcard{}, fmt.Errorf("flashcard needs a question and an answer")
	}
	return Flashcard{Question: question, Answer: answer}, nil
}

type SourceDocument struct {
	Name    string
	Format  SourceFormat
	Content []byte
}

type GenerationRequest struct {
	Text           string
	Count          int
	Subject        string
	TargetLanguage string
}

func NewGenerationRequest(text string, count int, subject, targetLanguage string) (GenerationRequest, error) {
	if count < MinCards || count > MaxCards {
		return GenerationRequest{}, NewError(StageRequest, KindInvalidRequest,
			fmt.Sprintf("num_cards must be between %d and %d", MinCards, MaxCards), nil)
	}
	if strings.TrimSpace(text) == "" {
		return GenerationRequest{}, NewError(StageNormalize, KindEmptyContent, "no text to generate flashcards from", nil)
	}
	return GenerationRequest{
		Text:           text,
		Count:          count,
		Subject:        strings.TrimSpace(subject),
		TargetLanguage: strings.TrimSpace(targetLanguage),
	}, nil
}

type TransformOp string

const (
	TransformImprove   TransformOp = "improve"
	TransformTranslate TransformOp = "translate"
)

type TransformRequest struct {
	Op             TransformOp
	Card           Flashcard
	TargetLanguage string
}

// Prompt is what the completion gateway sends: a system instruction and the
// user message.
type Prompt struct {
	System string
	User   string
}

type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    string
}

type Deck struct {
	ID        int
	Name      string
	Source    string
	OwnerID   *int
	InboxID   *int
	CreatedAt string
	Cards     []Flashcard
}

type InboxRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type RunRecord struct {
	TraceID   string
	Operation string
	Source    string
	InboxID   *int
	Timings   map[string]float64
	Counts    map[string]int
	ErrorKind string
}
