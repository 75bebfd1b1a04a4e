package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cardsmith/internal"
)

type stubCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	prompts []internal.Prompt
}

func (s *stubCompleter) Complete(ctx context.Context, prompt internal.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func textDoc(text string) internal.SourceDocument {
	return internal.SourceDocument{Name: "notes.txt", Format: internal.FormatPlain, Content: []byte(text)}
}

func TestRunGeneratesCards(t *testing.T) {
	stub := &stubCompleter{reply: "Question: What is 2+2?\nAnswer: 4\n\nQuestion: Capital of France?\nAnswer: Paris"}
	gen := NewOrchestrator(stub, Options{})

	res, err := gen.Run(context.Background(), textDoc("Arithmetic and geography."), 2, "General", "")
	if err != nil {
		t.Fatal(err)
	}
	want := []internal.Flashcard{{Question: "What is 2+2?", Answer: "4"}, {Question: "Capital of France?", Answer: "Paris"}}
	if diff := cmp.Diff(want, res.Cards); diff != "" {
		t.Fatalf("cards mismatch (-want +got):\n%s", diff)
	}
	if res.TraceID == "" {
		t.Fatal("missing trace id")
	}
	for _, key := range []string{"normalizeMs", "completeMs", "parseMs"} {
		if _, ok := res.Timings[key]; !ok {
			t.Fatalf("missing timing %s in %v", key, res.Timings)
		}
	}
	if stub.calls != 1 || !strings.Contains(stub.prompts[0].User, "Arithmetic and geography.") {
		t.Fatalf("calls=%d prompts=%+v", stub.calls, stub.prompts)
	}
}

func TestRunRejectsBeforeCallingGateway(t *testing.T) {
	tests := []struct {
		name  string
		doc   internal.SourceDocument
		count int
		want  error
	}{
		{"zero count", textDoc("text"), 0, internal.ErrInvalidRequest},
		{"count above max", textDoc("text"), 21, internal.ErrInvalidRequest},
		{"blank document", textDoc(" \n\t\n "), 5, internal.ErrEmptyContent},
		{"invalid utf8", textDoc("\xff\xfe\xfd"), 5, internal.ErrDecode},
		{"unknown format", internal.SourceDocument{Name: "a.bin", Content: []byte("x")}, 5, internal.ErrUnsupportedFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubCompleter{reply: "Question: q\nAnswer: a"}
			_, err := NewOrchestrator(stub, Options{}).Run(context.Background(), tc.doc, tc.count, "", "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
			if stub.calls != 0 {
				t.Fatalf("gateway called %d times", stub.calls)
			}
		})
	}
}

func TestRunCountBounds(t *testing.T) {
	for _, count := range []int{internal.MinCards, internal.MaxCards} {
		stub := &stubCompleter{reply: "Question: q\nAnswer: a"}
		if _, err := NewOrchestrator(stub, Options{}).Run(context.Background(), textDoc("text"), count, "", ""); err != nil {
			t.Fatalf("count=%d err=%v", count, err)
		}
	}
}

func TestRunGatewayErrorsStayDistinct(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"auth", internal.NewError(internal.StageComplete, internal.KindGatewayAuth, "bad key", nil), internal.ErrGatewayAuth},
		{"plain transport", errors.New("connection reset"), internal.ErrGatewayTransport},
		{"deadline", context.DeadlineExceeded, internal.ErrGatewayTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubCompleter{err: tc.err}
			_, err := NewOrchestrator(stub, Options{}).Run(context.Background(), textDoc("text"), 3, "", "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestRunReplyFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{"prose only", "I'm sorry, I can't do that.", internal.ErrMalformedStructure},
		{"all records blank", "Question: \nAnswer: a", internal.ErrEmptyResult},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubCompleter{reply: tc.reply}
			_, err := NewOrchestrator(stub, Options{}).Run(context.Background(), textDoc("text"), 3, "", "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestRunDedupesAndTrims(t *testing.T) {
	reply := strings.Join([]string{
		"Question: What is the powerhouse of the cell?\nAnswer: Mitochondria",
		"Question: What is the powerhouse of the cell ?\nAnswer: The mitochondrion",
		"Question: What stores genetic information?\nAnswer: DNA",
		"Question: What carries oxygen in blood?\nAnswer: Hemoglobin",
	}, "\n\n")
	stub := &stubCompleter{reply: reply}
	gen := NewOrchestrator(stub, Options{DedupeThreshold: 0.9})

	res, err := gen.Run(context.Background(), textDoc("Biology notes"), 2, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicates != 1 {
		t.Fatalf("duplicates=%d", res.Duplicates)
	}
	want := []internal.Flashcard{
		{Question: "What is the powerhouse of the cell?", Answer: "Mitochondria"},
		{Question: "What stores genetic information?", Answer: "DNA"},
	}
	if diff := cmp.Diff(want, res.Cards); diff != "" {
		t.Fatalf("cards mismatch (-want +got):\n%s", diff)
	}
}

func TestStructuredModeRoundTrip(t *testing.T) {
	stub := &stubCompleter{reply: "```json\n[{\"question\":\"Q\",\"answer\":\"A\"}]\n```"}
	gen := NewOrchestrator(stub, Options{Mode: internal.ModeStructured})

	res, err := gen.Run(context.Background(), textDoc("text"), 1, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Cards) != 1 || res.Cards[0].Answer != "A" {
		t.Fatalf("cards=%+v", res.Cards)
	}
	if !strings.Contains(stub.prompts[0].User, "JSON array") {
		t.Fatal("structured orchestrator sent a label-pair prompt")
	}
}

func TestTransform(t *testing.T) {
	card := internal.Flashcard{Question: "What is ATP?", Answer: "Energy"}

	t.Run("uses last record", func(t *testing.T) {
		stub := &stubCompleter{reply: "Original:\nQuestion: What is ATP?\nAnswer: Energy\n\nImproved:\nQuestion: What is adenosine triphosphate (ATP)?\nAnswer: The main energy carrier of the cell"}
		res, err := NewOrchestrator(stub, Options{}).Transform(context.Background(), internal.TransformRequest{Op: internal.TransformImprove, Card: card})
		if err != nil {
			t.Fatal(err)
		}
		want := internal.Flashcard{Question: "What is adenosine triphosphate (ATP)?", Answer: "The main energy carrier of the cell"}
		if res.Card != want || res.Fallback {
			t.Fatalf("res=%+v", res)
		}
	})

	t.Run("translate requires language", func(t *testing.T) {
		stub := &stubCompleter{}
		_, err := NewOrchestrator(stub, Options{}).Transform(context.Background(), internal.TransformRequest{Op: internal.TransformTranslate, Card: card})
		if !errors.Is(err, internal.ErrInvalidRequest) || stub.calls != 0 {
			t.Fatalf("err=%v calls=%d", err, stub.calls)
		}
	})

	t.Run("blank card rejected", func(t *testing.T) {
		stub := &stubCompleter{}
		_, err := NewOrchestrator(stub, Options{}).Transform(context.Background(), internal.TransformRequest{Op: internal.TransformImprove, Card: internal.Flashcard{Question: "q"}})
		if !errors.Is(err, internal.ErrInvalidRequest) || stub.calls != 0 {
			t.Fatalf("err=%v calls=%d", err, stub.calls)
		}
	})

	t.Run("unparseable reply fails without fallback", func(t *testing.T) {
		stub := &stubCompleter{reply: "no idea"}
		_, err := NewOrchestrator(stub, Options{}).Transform(context.Background(), internal.TransformRequest{Op: internal.TransformImprove, Card: card})
		if !errors.Is(err, internal.ErrMalformedStructure) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("fallback keeps original card", func(t *testing.T) {
		stub := &stubCompleter{reply: "no idea"}
		res, err := NewOrchestrator(stub, Options{TransformFallback: true}).Transform(context.Background(), internal.TransformRequest{Op: internal.TransformTranslate, Card: card, TargetLanguage: "French"})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Fallback || res.Card != card {
			t.Fatalf("res=%+v", res)
		}
	})

	t.Run("gateway errors are not masked by fallback", func(t *testing.T) {
		stub := &stubCompleter{err: internal.NewError(internal.StageComplete, internal.KindGatewayAuth, "bad key", nil)}
		_, err := NewOrchestrator(stub, Options{TransformFallback: true}).Transform(context.Background(), internal.TransformRequest{Op: internal.TransformImprove, Card: card})
		if !errors.Is(err, internal.ErrGatewayAuth) {
			t.Fatalf("err=%v", err)
		}
	})
}

func TestDedupeCardsDisabled(t *testing.T) {
	cards := []internal.Flashcard{{Question: "same", Answer: "a"}, {Question: "same", Answer: "b"}}
	got, dropped := DedupeCards(cards, 0)
	if dropped != 0 || len(got) != 2 {
		t.Fatalf("got=%+v dropped=%d", got, dropped)
	}
}
