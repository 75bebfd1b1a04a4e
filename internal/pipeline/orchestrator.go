package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"cardsmith/internal"
	"cardsmith/internal/config"
	"cardsmith/internal/util"
)

// Completer sends one prompt to a language model and returns the raw reply.
type Completer interface {
	Complete(ctx context.Context, prompt internal.Prompt) (string, error)
}

type Options struct {
	Mode              internal.ReplyMode
	QuestionLabel     string
	AnswerLabel       string
	DedupeThreshold   float64
	TransformFallback bool
	Logger            *slog.Logger
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Mode:              cfg.Mode(),
		QuestionLabel:     cfg.QuestionLabel,
		AnswerLabel:       cfg.AnswerLabel,
		DedupeThreshold:   cfg.DedupeThreshold,
		TransformFallback: cfg.TransformFallback,
	}
}

// Orchestrator runs normalize → prompt → complete → parse. It keeps no state
// between runs and is safe for concurrent use.
type Orchestrator struct {
	completer Completer
	prompts   *PromptBuilder
	parser    *ReplyParser
	dedupe    float64
	fallback  bool
	log       *slog.Logger
}

func NewOrchestrator(completer Completer, opts Options) *Orchestrator {
	if opts.Mode == "" {
		opts.Mode = internal.ModeLabelPair
	}
	if opts.QuestionLabel == "" {
		opts.QuestionLabel = "Question"
	}
	if opts.AnswerLabel == "" {
		opts.AnswerLabel = "Answer"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		completer: completer,
		prompts:   NewPromptBuilder(opts.Mode, opts.QuestionLabel, opts.AnswerLabel),
		parser:    NewReplyParser(opts.Mode, opts.QuestionLabel, opts.AnswerLabel),
		dedupe:    opts.DedupeThreshold,
		fallback:  opts.TransformFallback,
		log:       logger,
	}
}

type Result struct {
	TraceID    string
	Cards      []internal.Flashcard
	Duplicates int
	Timings    map[string]float64
}

type TransformResult struct {
	TraceID  string
	Card     internal.Flashcard
	Fallback bool
	Timings  map[string]float64
}

// Run generates flashcards from a source document.
func (o *Orchestrator) Run(ctx context.Context, doc internal.SourceDocument, count int, subject, targetLanguage string) (Result, error) {
	if err := ValidateCount(count); err != nil {
		return Result{TraceID: uuid.New().String()}, err
	}

	start := time.Now()
	text, err := NormalizeDocument(doc)
	normalizeMs := msSince(start)
	if err != nil {
		o.log.Warn("pipeline.normalize.error", "document", doc.Name, "format", doc.Format, "kind", internal.KindOf(err), "error", err)
		return Result{TraceID: uuid.New().String(), Timings: map[string]float64{"normalizeMs": normalizeMs}}, err
	}

	res, err := o.GenerateFromText(ctx, text, count, subject, targetLanguage)
	res.Timings["normalizeMs"] = normalizeMs
	return res, err
}

// GenerateFromText runs the pipeline on already extracted text.
func (o *Orchestrator) GenerateFromText(ctx context.Context, text string, count int, subject, targetLanguage string) (Result, error) {
	res := Result{TraceID: uuid.New().String(), Timings: map[string]float64{}}

	req, err := internal.NewGenerationRequest(text, count, subject, targetLanguage)
	if err != nil {
		return res, err
	}

	o.log.Info("pipeline.generate.start",
		"req_id", res.TraceID,
		"mode", o.parser.Mode(),
		"count", req.Count,
		"text_len", len(req.Text),
		"has_subject", req.Subject != "",
		"target_language", req.TargetLanguage,
	)

	prompt := o.prompts.BuildGeneration(req)
	reply, err := o.complete(ctx, res.TraceID, prompt, res.Timings)
	if err != nil {
		return res, err
	}

	parseStart := time.Now()
	cards, err := o.parser.Parse(reply)
	res.Timings["parseMs"] = msSince(parseStart)
	if err != nil {
		o.log.Warn("pipeline.parse.error", "req_id", res.TraceID, "kind", internal.KindOf(err), "reply_len", len(reply), "error", err)
		return res, err
	}
	if len(cards) == 0 {
		return res, internal.NewError(internal.StagePipeline, internal.KindEmptyResult, "the model reply contained no usable flashcards", nil)
	}

	cards, res.Duplicates = DedupeCards(cards, o.dedupe)
	if len(cards) > req.Count {
		o.log.Info("pipeline.generate.trimmed", "req_id", res.TraceID, "returned", len(cards), "requested", req.Count)
		cards = cards[:req.Count]
	}
	res.Cards = cards

	o.log.Info("pipeline.generate.ok",
		"req_id", res.TraceID,
		"cards", len(cards),
		"duplicates", res.Duplicates,
		"complete_ms", res.Timings["completeMs"],
	)
	return res, nil
}

// Transform improves or translates a single card.
func (o *Orchestrator) Transform(ctx context.Context, req internal.TransformRequest) (TransformResult, error) {
	res := TransformResult{TraceID: uuid.New().String(), Timings: map[string]float64{}}

	card, err := internal.NewFlashcard(req.Card.Question, req.Card.Answer)
	if err != nil {
		return res, internal.NewError(internal.StageRequest, internal.KindInvalidRequest, "flashcard needs a question and an answer", nil)
	}
	req.Card = card
	switch req.Op {
	case internal.TransformImprove:
	case internal.TransformTranslate:
		if req.TargetLanguage == "" {
			return res, internal.NewError(internal.StageRequest, internal.KindInvalidRequest, "target_language is required", nil)
		}
	default:
		return res, internal.NewError(internal.StageRequest, internal.KindInvalidRequest, fmt.Sprintf("unknown transform: %s", req.Op), nil)
	}

	o.log.Info("pipeline.transform.start", "req_id", res.TraceID, "op", req.Op, "target_language", req.TargetLanguage)

	reply, err := o.complete(ctx, res.TraceID, o.prompts.BuildTransform(req), res.Timings)
	if err != nil {
		return res, err
	}

	parseStart := time.Now()
	cards, err := o.parser.ParseSingle(reply)
	res.Timings["parseMs"] = msSince(parseStart)
	if err == nil && len(cards) == 0 {
		err = internal.NewError(internal.StagePipeline, internal.KindEmptyResult, "the model reply contained no usable flashcard", nil)
	}
	if err != nil {
		if o.fallback {
			o.log.Warn("pipeline.transform.fallback", "req_id", res.TraceID, "op", req.Op, "kind", internal.KindOf(err))
			res.Card = req.Card
			res.Fallback = true
			return res, nil
		}
		return res, err
	}

	res.Card = cards[0]
	o.log.Info("pipeline.transform.ok", "req_id", res.TraceID, "op", req.Op, "complete_ms", res.Timings["completeMs"])
	return res, nil
}

func (o *Orchestrator) complete(ctx context.Context, traceID string, prompt internal.Prompt, timings map[string]float64) (string, error) {
	start := time.Now()
	reply, err := o.completer.Complete(ctx, prompt)
	timings["completeMs"] = msSince(start)
	if err != nil {
		err = classifyGatewayError(ctx, err)
		o.log.Error("pipeline.complete.error", "req_id", traceID, "kind", internal.KindOf(err), "error", err)
		return "", err
	}
	return reply, nil
}

// classifyGatewayError maps errors from arbitrary Completer implementations
// onto the gateway error kinds. Already classified errors pass through.
func classifyGatewayError(ctx context.Context, err error) error {
	var classified *internal.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return internal.NewError(internal.StageComplete, internal.KindGatewayTimeout, "the completion service did not answer in time", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return internal.NewError(internal.StageComplete, internal.KindGatewayTimeout, "the completion service did not answer in time", err)
	}
	return internal.NewError(internal.StageComplete, internal.KindGatewayTransport, "the completion service request failed", err)
}

// ValidateCount checks the requested number of cards before any work starts.
func ValidateCount(count int) error {
	if count < internal.MinCards || count > internal.MaxCards {
		return internal.NewError(internal.StageRequest, internal.KindInvalidRequest,
			fmt.Sprintf("num_cards must be between %d and %d", internal.MinCards, internal.MaxCards), nil)
	}
	return nil
}

// DedupeCards drops cards whose normalized question is at least threshold
// similar to an earlier card. A threshold <= 0 disables it.
func DedupeCards(cards []internal.Flashcard, threshold float64) ([]internal.Flashcard, int) {
	if threshold <= 0 || len(cards) < 2 {
		return cards, 0
	}
	kept := make([]internal.Flashcard, 0, len(cards))
	keys := make([]string, 0, len(cards))
	for _, c := range cards {
		key := util.NormalizeForCompare(c.Question)
		dup := false
		for _, k := range keys {
			if util.DiceCoefficient(key, k) >= threshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, c)
		keys = append(keys, key)
	}
	return kept, len(cards) - len(kept)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
