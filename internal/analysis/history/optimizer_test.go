package history

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/freibot/backend/internal/model/chat"
)

func conversation(n int, contentLen int) []chat.Message {
	out := make([]chat.Message, n)
	for i := range out {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		body := fmt.Sprintf("m%02d ", i)
		if contentLen > len(body) {
			body += strings.Repeat("x", contentLen-len(body))
		}
		out[i] = chat.Message{Role: role, Content: body}
	}
	return out
}

func TestOptimizeShortHistoryUnchanged(t *testing.T) {
	o := NewOptimizer()
	assert.Empty(t, o.Optimize(nil))

	single := conversation(1, 100000)
	assert.Equal(t, single, o.Optimize(single))
}

func TestOptimizeKeepsSmallHistoryUnderBudget(t *testing.T) {
	o := NewOptimizer()
	for n := 2; n <= 6; n++ {
		h := conversation(n, 40)
		assert.Equal(t, h, o.Optimize(h), "length %d", n)
	}
}

func TestOptimizeProtectsFirstTwoAndLastSix(t *testing.T) {
	o := NewOptimizer()
	h := conversation(10, 40)

	got := o.Optimize(h)
	require.Len(t, got, 8)
	want := append(chat.Clone(h[:2]), h[4:]...)
	assert.Equal(t, want, got)
}

func TestOptimizeOverlapBandHasNoDuplicates(t *testing.T) {
	o := NewOptimizer()
	for _, n := range []int{7, 8} {
		h := conversation(n, 40)
		got := o.Optimize(h)
		assert.Equal(t, h, got, "length %d", n)
	}
}

func TestOptimizeFallsBackToLastFourOverBudget(t *testing.T) {
	o := NewOptimizer()
	// 10 messages of 4000 chars each: protected set is 8000 tokens.
	h := conversation(10, 4004)

	got := o.Optimize(h)
	assert.Equal(t, h[6:], got)
}

func TestOptimizeOverBudgetShortHistoryReturnedWhole(t *testing.T) {
	o := NewOptimizer(WithTokenBudget(10))
	h := conversation(3, 400)
	assert.Equal(t, h, o.Optimize(h))
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	o := NewOptimizer()
	h := conversation(12, 40)
	snapshot := chat.Clone(h)

	got := o.Optimize(h)
	got[0].Content = "changed"
	assert.Equal(t, snapshot, h)
}

func TestOptimizeCustomEstimator(t *testing.T) {
	calls := 0
	o := NewOptimizer(WithTokenBudget(5), WithEstimator(func(string) int {
		calls++
		return 1
	}))
	h := conversation(10, 10)
	got := o.Optimize(h)
	// 8 protected messages at one token each exceed the budget of 5.
	assert.Equal(t, h[6:], got)
	assert.Equal(t, 8, calls)
}

func TestRenderHistoryBlock(t *testing.T) {
	h := []chat.Message{
		chat.UserMessage("Wie viele Einwohner hat Freiburg?"),
		chat.AssistantMessage("Rund 236.000."),
		chat.UserMessage("Und im Stadtteil Vauban?"),
	}

	block := RenderHistoryBlock(h)
	assert.Equal(t, "F: Wie viele Einwohner hat Freiburg?\nA: Rund 236.000.", block)
	assert.NotContains(t, block, "Vauban")
	assert.Empty(t, RenderHistoryBlock(h[:1]))
}

func TestRenderHistoryBlockLimits(t *testing.T) {
	h := conversation(30, 500)
	for i := range h {
		h[i].Content = strings.Repeat("ü", 500)
	}

	block := RenderHistoryBlock(h)
	assert.LessOrEqual(t, utf8.RuneCountInString(block), HistoryBlockLimit)
	assert.True(t, utf8.ValidString(block))
	for _, line := range strings.Split(block, "\n") {
		content := strings.TrimPrefix(strings.TrimPrefix(line, "F: "), "A: ")
		assert.LessOrEqual(t, utf8.RuneCountInString(content), MessagePreviewLimit+3)
	}
	first := strings.Split(block, "\n")[0]
	assert.True(t, strings.HasSuffix(first, "..."))
}

func TestAdaptiveRetrievalCount(t *testing.T) {
	assert.Equal(t, 8, AdaptiveRetrievalCount(0))
	assert.Equal(t, 8, AdaptiveRetrievalCount(3))
	assert.Equal(t, 6, AdaptiveRetrievalCount(10))
	assert.Equal(t, 4, AdaptiveRetrievalCount(16))
	assert.Equal(t, 4, AdaptiveRetrievalCount(40))
	assert.Equal(t, 8, AdaptiveRetrievalCount(-5))

	prev := AdaptiveRetrievalCount(0)
	for n := 1; n < 100; n++ {
		k := AdaptiveRetrievalCount(n)
		assert.LessOrEqual(t, k, prev)
		assert.GreaterOrEqual(t, k, 4)
		prev = k
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "Grü", TruncateRunes("Grüße", 3))
	assert.Equal(t, "ab", TruncateRunes("ab", 10))
	assert.Equal(t, "", TruncateRunes("ab", 0))
}

func TestEstimatorByName(t *testing.T) {
	est, err := EstimatorByName("chars", "")
	require.NoError(t, err)
	assert.Equal(t, 2, est("12345678"))

	_, err = EstimatorByName("words", "")
	assert.Error(t, err)

	tk, err := EstimatorByName("tiktoken", "gpt-4o")
	require.NoError(t, err)
	assert.Greater(t, tk("Wie viele Einwohner hat Freiburg?"), 0)
	assert.Equal(t, 0, tk(""))
}
