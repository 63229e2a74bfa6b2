package generator

import (
	"fmt"
	"strings"

	"mercator-hq/parley/pkg/policy"
)

// DefaultSystemPrompt instructs the backend to answer with a script only.
const DefaultSystemPrompt = "You write shell scripts. Reply with the script only, " +
	"without explanation. Never use privilege escalation, recursive deletion " +
	"or world-writable permissions."

// Message is a chat message in OpenAI format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildMessages returns the chat messages for a request. When feedback is
// present the user message is followed by a corrective instruction listing
// every violation of the previous attempt.
func BuildMessages(systemPrompt, prompt string, feedback []policy.Violation) []Message {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
	if len(feedback) > 0 {
		messages = append(messages, Message{Role: "user", Content: CorrectivePrompt(feedback)})
	}
	return messages
}

// CorrectivePrompt renders violations as guidance for the next attempt.
func CorrectivePrompt(feedback []policy.Violation) string {
	var sb strings.Builder
	sb.WriteString("Your previous answer was rejected by the safety policy:\n")
	for _, v := range feedback {
		fmt.Fprintf(&sb, "- %s (%s)\n", v.Description, v.RuleID)
	}
	sb.WriteString("Rewrite the script so that none of these issues occur.")
	return sb.String()
}

// ExtractCode returns the body of the first fenced code block in text, or
// the trimmed text when there is none.
func ExtractCode(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return strings.TrimSpace(text)
	}
	rest := text[start+3:]
	// Skip the language tag line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimRight(rest[:end], "\n")
}
