package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"cardsmith/internal"
)

const generationSystemPrompt = "You are an expert educator specializing in creating effective flashcards for learning. " +
	"Create clear, concise, and educational flashcards that follow best practices for learning and retention."

const improveSystemPrompt = "You are an expert in educational content improvement."

var generationGuidelines = []string{
	"Questions should be clear and specific",
	"Answers should be concise but comprehensive",
	"Focus on key concepts and important details",
	"Use appropriate terminology for the subject matter",
	"Ensure questions promote understanding, not just memorization",
}

// PromptBuilder renders requests into prompts that declare exactly one reply
// convention, the same one the ReplyParser built from the same settings reads.
type PromptBuilder struct {
	mode          internal.ReplyMode
	questionLabel string
	answerLabel   string
}

func NewPromptBuilder(mode internal.ReplyMode, questionLabel, answerLabel string) *PromptBuilder {
	return &PromptBuilder{
		mode:          mode,
		questionLabel: strings.TrimSpace(questionLabel),
		answerLabel:   strings.TrimSpace(answerLabel),
	}
}

func (b *PromptBuilder) Mode() internal.ReplyMode {
	return b.mode
}

func (b *PromptBuilder) BuildGeneration(req internal.GenerationRequest) internal.Prompt {
	var sb strings.Builder

	subject := ""
	if req.Subject != "" {
		subject = " about " + req.Subject
	}
	fmt.Fprintf(&sb, "Create %d educational flashcards%s from the following content:\n\n", req.Count, subject)
	sb.WriteString(req.Text)
	sb.WriteString("\n\nFollow these guidelines:\n")

	guidelines := append([]string{}, generationGuidelines...)
	if req.TargetLanguage != "" {
		guidelines = append(guidelines, "Write every question and answer in "+req.TargetLanguage)
	}
	for i, g := range guidelines {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, g)
	}
	sb.WriteString("\n")
	sb.WriteString(b.listFormat(req.Count))

	return internal.Prompt{System: generationSystemPrompt, User: sb.String()}
}

func (b *PromptBuilder) BuildTransform(req internal.TransformRequest) internal.Prompt {
	var sb strings.Builder
	system := improveSystemPrompt

	switch req.Op {
	case internal.TransformTranslate:
		system = fmt.Sprintf("You are an expert translator to %s.", req.TargetLanguage)
		fmt.Fprintf(&sb, "Translate this flashcard to %s:\n", req.TargetLanguage)
		sb.WriteString(b.renderCard(req.Card))
		sb.WriteString("\n\nEnsure the translation maintains the educational value and context.\n")
		sb.WriteString(b.singleFormat("translated"))
	default:
		sb.WriteString("Improve this flashcard while maintaining its educational value:\n")
		sb.WriteString(b.renderCard(req.Card))
		sb.WriteString("\n\nMake the question more precise and the answer more comprehensive yet concise.\n")
		if req.TargetLanguage != "" {
			fmt.Fprintf(&sb, "Write the improved flashcard in %s.\n", req.TargetLanguage)
		}
		sb.WriteString(b.singleFormat("improved"))
	}

	return internal.Prompt{System: system, User: sb.String()}
}

func (b *PromptBuilder) renderCard(card internal.Flashcard) string {
	if b.mode == internal.ModeStructured {
		blob, _ := json.Marshal(card)
		return string(blob)
	}
	return fmt.Sprintf("%s: %s\n%s: %s", b.questionLabel, card.Question, b.answerLabel, card.Answer)
}

func (b *PromptBuilder) listFormat(count int) string {
	if b.mode == internal.ModeStructured {
		return fmt.Sprintf("Return exactly %d flashcards as a JSON array of objects, each with a \"question\" and an \"answer\" string field:\n"+
			"[{\"question\": \"...\", \"answer\": \"...\"}]\n\n"+
			"Return only the JSON array.", count)
	}
	return fmt.Sprintf("Return exactly %d flashcards in this format:\n%s: [question]\n%s: [answer]\n\n"+
		"[Repeat for each flashcard]", count, b.questionLabel, b.answerLabel)
}

func (b *PromptBuilder) singleFormat(adjective string) string {
	if b.mode == internal.ModeStructured {
		return fmt.Sprintf("Return the %s version as a single JSON object:\n{\"question\": \"...\", \"answer\": \"...\"}", adjective)
	}
	return fmt.Sprintf("Return the %s version in this format:\n%s: [%s question]\n%s: [%s answer]",
		adjective, b.questionLabel, adjective, b.answerLabel, adjective)
}
