// Package history keeps multi-turn conversations inside a prompt budget and
// decides how broadly to retrieve for a given conversation length.
package history

import (
	"strings"

	"github.com/zhouzirui/freibot/backend/internal/model/chat"
)

const (
	DefaultTokenBudget  = 8000
	DefaultKeepFirst    = 2
	DefaultKeepLast     = 6
	DefaultFallbackLast = 4

	// Rendered history block limits, in characters.
	MessagePreviewLimit = 200
	HistoryBlockLimit   = 2000

	minRetrievalCount = 4
	maxRetrievalCount = 8
	truncationMarker  = "..."
)

// Optimizer trims conversation history under a token budget.
type Optimizer struct {
	budget       int
	keepFirst    int
	keepLast     int
	fallbackLast int
	estimate     Estimator
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithTokenBudget sets the token budget. Non-positive values are ignored.
func WithTokenBudget(budget int) Option {
	return func(o *Optimizer) {
		if budget > 0 {
			o.budget = budget
		}
	}
}

// WithEstimator replaces the default four-characters-per-token estimate.
func WithEstimator(e Estimator) Option {
	return func(o *Optimizer) {
		if e != nil {
			o.estimate = e
		}
	}
}

// WithWindow sets how many leading and trailing turns are protected, and how
// many trailing turns survive when the protected set is over budget.
func WithWindow(keepFirst, keepLast, fallbackLast int) Option {
	return func(o *Optimizer) {
		if keepFirst >= 0 {
			o.keepFirst = keepFirst
		}
		if keepLast >= 0 {
			o.keepLast = keepLast
		}
		if fallbackLast >= 0 {
			o.fallbackLast = fallbackLast
		}
	}
}

// NewOptimizer creates an optimizer with the default 8000 token budget.
func NewOptimizer(opts ...Option) *Optimizer {
	o := &Optimizer{
		budget:       DefaultTokenBudget,
		keepFirst:    DefaultKeepFirst,
		keepLast:     DefaultKeepLast,
		fallbackLast: DefaultFallbackLast,
		estimate:     CharEstimator,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize returns a shortened copy of history.
//
// Histories shorter than two turns come back unchanged. Otherwise the first
// keepFirst and the last keepLast turns are kept (the whole history when the
// two windows would overlap). If the kept turns exceed the budget only the
// last fallbackLast turns are returned, or the full history when it is
// shorter than that. The input is never modified.
func (o *Optimizer) Optimize(history []chat.Message) []chat.Message {
	n := len(history)
	if n < 2 {
		return chat.Clone(history)
	}

	var protected []chat.Message
	if n <= o.keepFirst+o.keepLast {
		protected = chat.Clone(history)
	} else {
		protected = make([]chat.Message, 0, o.keepFirst+o.keepLast)
		protected = append(protected, history[:o.keepFirst]...)
		protected = append(protected, history[n-o.keepLast:]...)
	}

	if o.Tokens(protected) <= o.budget {
		return protected
	}

	if n >= o.fallbackLast {
		return chat.Clone(history[n-o.fallbackLast:])
	}
	return chat.Clone(history)
}

// Tokens sums the estimated token count of every message.
func (o *Optimizer) Tokens(history []chat.Message) int {
	total := 0
	for _, msg := range history {
		total += o.estimate(msg.Content)
	}
	return total
}

// RenderHistoryBlock renders every turn except the last (the pending
// question) as "F: ..." / "A: ..." lines. Each turn is cut to 200 characters
// and the whole block to 2000 characters. Returns "" for fewer than two turns.
func RenderHistoryBlock(history []chat.Message) string {
	if len(history) < 2 {
		return ""
	}

	lines := make([]string, 0, len(history)-1)
	for _, msg := range history[:len(history)-1] {
		lines = append(lines, msg.Role.Letter()+": "+preview(msg.Content, MessagePreviewLimit))
	}
	return TruncateRunes(strings.Join(lines, "\n"), HistoryBlockLimit)
}

// AdaptiveRetrievalCount returns how many chunks to retrieve for a
// conversation of the given length: 8 for a fresh conversation, one fewer per
// four turns, never below 4.
func AdaptiveRetrievalCount(historyLength int) int {
	if historyLength < 0 {
		historyLength = 0
	}
	return max(minRetrievalCount, maxRetrievalCount-historyLength/4)
}

// TruncateRunes cuts s to at most limit characters without splitting a
// multi-byte sequence.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}

func preview(s string, limit int) string {
	cut := TruncateRunes(s, limit)
	if len(cut) < len(s) {
		return cut + truncationMarker
	}
	return s
}
