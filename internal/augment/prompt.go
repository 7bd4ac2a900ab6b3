package augment

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/prepai-go/internal/budget"
)

// questionSystemPrompt constrains the model to a bare JSON array.
const questionSystemPrompt = "You return ONLY a valid JSON array. No text before or after the JSON."

// promptContextTokens caps the augmented context placed in the user prompt.
const promptContextTokens = 1375

// QuestionRequest describes the interview questions a prompt asks for.
type QuestionRequest struct {
	// Difficulty is a free-form level such as "easy", "medium" or "hard".
	// Defaults to "medium".
	Difficulty string
	// Count is the number of questions requested. Defaults to 4.
	Count int
}

// Messages builds the chat messages that ask a model for project deep-dive
// questions grounded in document. The augmented context comes from Build, so
// the same fallback rules apply. An empty document yields no messages.
func (b *Builder) Messages(ctx context.Context, document string, req QuestionRequest) ([]*schema.Message, error) {
	augmented, err := b.Build(ctx, document)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(augmented) == "" {
		return nil, nil
	}

	difficulty := strings.ToLower(req.Difficulty)
	if difficulty == "" {
		difficulty = "medium"
	}
	count := req.Count
	if count <= 0 {
		count = 4
	}

	return []*schema.Message{
		schema.SystemMessage(questionSystemPrompt),
		schema.UserMessage(questionPrompt(budget.Truncate(augmented, promptContextTokens), difficulty, count)),
	}, nil
}

func questionPrompt(resume, difficulty string, count int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate exactly %d %s-level interview questions.\n", count, difficulty)
	sb.WriteString("Base them strictly on the projects and real experience in the resume.\n\n")
	sb.WriteString("Resume:\n")
	sb.WriteString(resume)
	sb.WriteString("\n\nRules:\n")
	sb.WriteString("- Only ask about things clearly mentioned in the resume.\n")
	sb.WriteString("- Focus on technical decisions, challenges, architecture, trade-offs, scaling and impact.\n")
	sb.WriteString("- Do not invent projects or technologies.\n")
	sb.WriteString("- Return only a JSON array, no prose and no markdown.\n\n")
	sb.WriteString("Format:\n")
	fmt.Fprintf(&sb, `[{"id": "q1", "question": "...", "type": "project_deep_dive", "estimated_time_min": 8, "difficulty": %q}]`, difficulty)
	return sb.String()
}
