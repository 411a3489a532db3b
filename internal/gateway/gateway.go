// Package gateway consults external classifiers on medium-confidence
// requests: a local LLM speaking the chat-completions protocol and an
// optional external classification API. Both sinks are tri-state; every
// failure collapses to Inconclusive so the pipeline never blocks on them.
package gateway

import (
	"context"

	"github.com/scrapewall/backend/internal/events"
)

// Result is the tri-state outcome of a consultation.
type Result int

const (
	Inconclusive Result = iota
	Bot
	Benign
)

func (r Result) String() string {
	switch r {
	case Bot:
		return "bot"
	case Benign:
		return "benign"
	default:
		return "inconclusive"
	}
}

// Consultant classifies a single request out of band.
type Consultant interface {
	// Name identifies the sink in actions and reasons ("local_llm",
	// "external_api").
	Name() string
	Classify(ctx context.Context, meta *events.RequestMetadata) Result
}
