package insight

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/tiktoken-go/tokenizer"
)

// SystemPrompt frames every insight request.
const SystemPrompt = "You are a skilled business analyst who provides insightful analysis of Jira data. " +
	"Your insights should be data-driven, actionable, and presented in a clear, professional manner " +
	"suitable for executive presentations."

// maxDocText caps the text of one context document inside the prompt.
const maxDocText = 600

// TokenCounter counts prompt tokens with a tiktoken codec.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a counter using the GPT-4 encoding.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text, estimating 4 chars per token
// when no codec is available.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Prompt is a built user prompt with the context documents that made it in.
type Prompt struct {
	Text      string
	Documents int
	Dropped   int
	Tokens    int
}

// BuildPrompt renders the user prompt for def. Context documents are dropped
// from the tail until system and user prompt together fit budget tokens.
func BuildPrompt(def Kind, question, summary string, docs []models.Document, tc *TokenCounter, budget int) Prompt {
	system := tc.Count(SystemPrompt)
	for n := len(docs); ; n-- {
		text := renderPrompt(def, question, summary, docs[:n])
		tokens := tc.Count(text)
		if system+tokens <= budget || n == 0 {
			return Prompt{Text: text, Documents: n, Dropped: len(docs) - n, Tokens: system + tokens}
		}
	}
}

func renderPrompt(def Kind, question, summary string, docs []models.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please analyze the following %s and provide business analyst-level insights:\n\n", def.Subject)
	if question != "" {
		fmt.Fprintf(&b, "Question: %s\n\n", question)
	}
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n\n")

	if len(docs) > 0 {
		fmt.Fprintf(&b, "Here are the %d most relevant issues for reference:\n\n", len(docs))
		for _, d := range docs {
			b.WriteString(renderDoc(d))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Please provide the following insights:\n")
	for i, s := range def.Sections {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, s.Name, s.Description)
	}
	b.WriteString("\nFormat your response as a structured report. Start each section with a markdown heading " +
		"(\"## Section Name\") and use bullet points (\"- \") for its content.\n")
	return b.String()
}

func renderDoc(d models.Document) string {
	var attrs []string
	add := func(label, v string) {
		if v != "" {
			attrs = append(attrs, label+"="+v)
		}
	}
	add("type", d.IssueType)
	add("status", d.Status)
	add("priority", d.Priority)
	add("assignee", d.Assignee)
	add("sprint", d.Sprint)
	add("updated", d.Updated)

	text := d.Text
	if r := []rune(text); len(r) > maxDocText {
		text = string(r[:maxDocText]) + "..."
	}
	return fmt.Sprintf("- %s %s [%s]: %s", d.Key, d.Title, strings.Join(attrs, ", "), text)
}
