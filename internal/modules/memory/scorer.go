package memory

import (
	"context"
	"fmt"
)

// TextGenerator is the slice of the model client the scorer needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, system string, user string) (string, error)
}

// ModelScorer implements Scorer over a text-generation model. Sentiment and
// helpfulness see the conversation; excitement and triples see only the target.
type ModelScorer struct {
	gen TextGenerator
}

func NewModelScorer(gen TextGenerator) *ModelScorer {
	return &ModelScorer{gen: gen}
}

func (s *ModelScorer) Sentiment(ctx context.Context, conversation, target string) (string, error) {
	return s.gen.GenerateText(ctx, sentimentSystemPrompt, withConversation(conversation, target, "Sentiment:"))
}

func (s *ModelScorer) Helpfulness(ctx context.Context, conversation, target string) (string, error) {
	return s.gen.GenerateText(ctx, helpfulnessSystemPrompt, withConversation(conversation, target, "Helpfulness:"))
}

func (s *ModelScorer) Excitement(ctx context.Context, _, target string) (string, error) {
	return s.gen.GenerateText(ctx, excitementSystemPrompt, fmt.Sprintf("Message: %q\nExcitement:", target))
}

func (s *ModelScorer) Triples(ctx context.Context, _, target string) (string, error) {
	return s.gen.GenerateText(ctx, triplesSystemPrompt, fmt.Sprintf("Message: %q\nOutput:", target))
}

func withConversation(conversation, target, cue string) string {
	return fmt.Sprintf("Conversation:\n%s\nTarget Message: %q\n%s", conversation, target, cue)
}
