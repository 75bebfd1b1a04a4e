package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cardsmith/internal"
)

// ReplyParser turns raw model replies into flashcards under one convention.
type ReplyParser struct {
	mode          internal.ReplyMode
	questionLabel string
	answerLabel   string
}

func NewReplyParser(mode internal.ReplyMode, questionLabel, answerLabel string) *ReplyParser {
	return &ReplyParser{
		mode:          mode,
		questionLabel: strings.TrimSpace(questionLabel),
		answerLabel:   strings.TrimSpace(answerLabel),
	}
}

func (p *ReplyParser) Mode() internal.ReplyMode {
	return p.mode
}

// Parse reads a list reply. It may return zero cards without error when every
// record was blank; callers decide whether that is a failure.
func (p *ReplyParser) Parse(raw string) ([]internal.Flashcard, error) {
	if p.mode == internal.ModeStructured {
		return p.parseStructured(raw, '[', ']', cardListSchema)
	}
	return p.parseLabelPairs(raw)
}

// ParseSingle reads a reply to a single-record request. In structured mode it
// looks for the first balanced object instead of an array. In label-pair mode
// only the last complete record is returned; an echoed input card comes first.
func (p *ReplyParser) ParseSingle(raw string) ([]internal.Flashcard, error) {
	if p.mode == internal.ModeStructured {
		return p.parseStructured(raw, '{', '}', cardSchema)
	}
	cards, err := p.parseLabelPairs(raw)
	if err != nil || len(cards) <= 1 {
		return cards, err
	}
	return cards[len(cards)-1:], nil
}

// Encode renders cards in the parser's own convention.
func (p *ReplyParser) Encode(cards []internal.Flashcard) string {
	if p.mode == internal.ModeStructured {
		if cards == nil {
			cards = []internal.Flashcard{}
		}
		blob, _ := json.Marshal(cards)
		return string(blob)
	}
	var sb strings.Builder
	for i, c := range cards {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s: %s\n%s: %s", p.questionLabel, c.Question, p.answerLabel, c.Answer)
	}
	return sb.String()
}

func (p *ReplyParser) parseLabelPairs(raw string) ([]internal.Flashcard, error) {
	type pending struct {
		question  string
		answer    string
		hasAnswer bool
	}

	out := []internal.Flashcard{}
	var cur *pending
	sawQuestion, sawAnswer := false, false

	commit := func() {
		if cur == nil || !cur.hasAnswer {
			return
		}
		if card, err := internal.NewFlashcard(cur.question, cur.answer); err == nil {
			out = append(out, card)
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := cutLabel(line, p.questionLabel); ok {
			// An unanswered previous record is dropped here.
			commit()
			cur = &pending{question: rest}
			sawQuestion = true
			continue
		}
		if rest, ok := cutLabel(line, p.answerLabel); ok && cur != nil {
			cur.answer = rest
			cur.hasAnswer = true
			sawAnswer = true
		}
	}
	commit()

	if !sawQuestion {
		return nil, internal.NewError(internal.StageParse, internal.KindMalformedStructure,
			fmt.Sprintf("reply has no %q lines", p.questionLabel+":"), nil)
	}
	if !sawAnswer {
		return nil, internal.NewError(internal.StageParse, internal.KindIncompleteRecord,
			fmt.Sprintf("reply has questions but no %q lines", p.answerLabel+":"), nil)
	}
	return out, nil
}

// cutLabel reports whether line starts with label (case-insensitive) followed
// by optional spaces and a colon, and returns the trimmed remainder.
func cutLabel(line, label string) (string, bool) {
	if label == "" || len(line) <= len(label) {
		return "", false
	}
	if !strings.EqualFold(line[:len(label)], label) {
		return "", false
	}
	rest := strings.TrimLeft(line[len(label):], " \t")
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	return strings.TrimSpace(rest[1:]), true
}

func (p *ReplyParser) parseStructured(raw string, left, right byte, schema *jsonschema.Schema) ([]internal.Flashcard, error) {
	span, err := findJSONSpan(raw, left, right)
	if err != nil {
		return nil, err
	}

	v, err := decodeAgainst(schema, []byte(span))
	if err != nil {
		return nil, internal.NewError(internal.StageParse, internal.KindMalformedStructure, "reply JSON is not a list of question/answer records", err)
	}

	var records []any
	switch t := v.(type) {
	case []any:
		records = t
	case map[string]any:
		records = []any{t}
	}

	out := make([]internal.Flashcard, 0, len(records))
	for _, rec := range records {
		m, ok := rec.(map[string]any)
		if !ok {
			return nil, internal.NewError(internal.StageParse, internal.KindMalformedStructure, "reply record is not an object", nil)
		}
		card, err := internal.NewFlashcard(scalarString(m["question"]), scalarString(m["answer"]))
		if err != nil {
			continue
		}
		out = append(out, card)
	}
	return out, nil
}

// findJSONSpan returns the first balanced open..close span that is valid JSON.
// Brackets inside JSON strings are ignored.
func findJSONSpan(raw string, left, right byte) (string, error) {
	balanced := false
	for start := strings.IndexByte(raw, left); start >= 0; {
		end := matchClose(raw, start, left, right)
		if end > 0 {
			balanced = true
			span := raw[start : end+1]
			if json.Valid([]byte(span)) {
				return span, nil
			}
		}
		next := strings.IndexByte(raw[start+1:], left)
		if next < 0 {
			break
		}
		start += next + 1
	}

	if balanced {
		return "", internal.NewError(internal.StageParse, internal.KindMalformedStructure, "reply contains no valid JSON "+spanName(left), nil)
	}
	return "", internal.NewError(internal.StageParse, internal.KindMalformedStructure, "reply contains no balanced JSON "+spanName(left), nil)
}

func matchClose(raw string, start int, left, right byte) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case left:
			depth++
		case right:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func spanName(left byte) string {
	if left == '{' {
		return "object"
	}
	return "array"
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
