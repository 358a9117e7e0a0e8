package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/JushBJJ/Wormhole/common/llm"
	"github.com/JushBJJ/Wormhole/internal/moderation"
)

// autoRunConfidence is the match score at which a suggestion runs without asking.
const autoRunConfidence = 6

// Suggestion is the fuzzy matcher's structured verdict on unrecognised input.
type Suggestion struct {
	Command    string            `json:"command" jsonschema:"required,description=Best matching command name or empty when nothing fits"`
	Args       []string          `json:"args" jsonschema:"required,description=Arguments for the command in order"`
	Confidence int               `json:"confidence" jsonschema:"required,description=0-10 likelihood that the user meant this command"`
	Signal     moderation.Signal `json:"signal" jsonschema:"required"`
}

// Suggester maps unrecognised command text to the likeliest command. It is
// optional; the dispatcher works without one.
type Suggester interface {
	Suggest(ctx context.Context, input string, commands []string) (Suggestion, error)
}

const suggestPrompt = `You route chat commands for a cross-platform relay bot.
The user typed a command the bot did not recognise. Pick the closest command
from the list and extract its arguments, or leave the command empty.
Also rate the input on 0-10 scales: ban_probability (clear intent to harm),
abuse (insults or harassment), spam (flooding or advertising), useless
(noise with no purpose).

Commands:
%s`

// LLMSuggester asks a language model for a structured suggestion.
type LLMSuggester struct {
	client llm.Client
	schema any
}

func NewLLMSuggester(client llm.Client) *LLMSuggester {
	return &LLMSuggester{client: client, schema: llm.GenerateSchema[Suggestion]()}
}

func (s *LLMSuggester) Suggest(ctx context.Context, input string, commands []string) (Suggestion, error) {
	var out Suggestion
	_, err := s.client.Chat(ctx, llm.Request{
		SystemPrompt: fmt.Sprintf(suggestPrompt, strings.Join(commands, "\n")),
		UserPrompt:   input,
		SchemaName:   "command_suggestion",
		Schema:       s.schema,
		Temperature:  llm.Temp(0),
	}, &out)
	if err != nil {
		return Suggestion{}, fmt.Errorf("suggesting command: %w", err)
	}
	out.Command = strings.ToLower(strings.TrimSpace(out.Command))
	return out, nil
}
