// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// HELPERS
// =============================================================================

// frame renders one data line carrying content.
func frame(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": content}}},
	})
	return "data: " + string(payload) + "\n"
}

// fakeClock advances by step on every call.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func collect(opts ...Option) (*Decoder, *[]Update) {
	var updates []Update
	d := NewDecoder(func(u Update) { updates = append(updates, u) }, opts...)
	return d, &updates
}

func contents(updates []Update) []string {
	out := make([]string, len(updates))
	for i, u := range updates {
		out[i] = u.Content
	}
	return out
}

// =============================================================================
// FRAMING
// =============================================================================

func TestDecoder_ReasoningAcrossTwoChunks(t *testing.T) {
	d, updates := collect()

	_, err := d.Write([]byte(frame("<think>reasoning ")))
	require.NoError(t, err)
	_, err = d.Write([]byte(frame("text</think>answer") + "data: [DONE]\n"))
	require.NoError(t, err)
	final := d.Finish()

	require.Len(t, *updates, 3)
	first := (*updates)[0]
	assert.True(t, first.InReasoning)
	assert.Equal(t, "<think>reasoning ", first.Content)
	assert.Equal(t, "reasoning ", first.Reasoning)

	assert.Equal(t, "<think>reasoning text</think>answer", final.Content)
	assert.Equal(t, "reasoning text", final.Reasoning)
	assert.False(t, final.InReasoning)
	assert.True(t, final.Final)
	assert.True(t, d.SawDone())
}

func TestDecoder_LinesSplitAcrossWrites(t *testing.T) {
	d, updates := collect()
	raw := frame("Hello") + "\r\n" + frame(" world")

	for i := 0; i < len(raw); i += 7 {
		end := i + 7
		if end > len(raw) {
			end = len(raw)
		}
		_, err := d.Write([]byte(raw[i:end]))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"Hello", "Hello world"}, contents(*updates))
}

func TestDecoder_CarriageReturnsAndBarePayloads(t *testing.T) {
	d, updates := collect()
	payload, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": "raw"}}},
	})

	_, _ = d.Write([]byte(strings.TrimSuffix(frame("a"), "\n") + "\r\n"))
	_, _ = d.Write([]byte(string(payload) + "\n"))
	_, _ = d.Write([]byte(": keep-alive\n\n"))

	assert.Equal(t, []string{"a", "araw"}, contents(*updates))
	assert.Zero(t, d.Malformed())
}

func TestDecoder_MalformedLineIsSkippedAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	d, updates := collect(WithLogger(zap.New(core)))

	_, err := d.Write([]byte(frame("one") + "data: {broken\n" + frame(" two")))
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "one two"}, contents(*updates))
	assert.Equal(t, 1, d.Malformed())
	assert.Equal(t, 1, logs.FilterMessage("skipping malformed stream frame").Len())
}

func TestDecoder_EmptyDeltasAndRoleFramesEmitNothing(t *testing.T) {
	d, updates := collect()

	_, _ = d.Write([]byte(`data: {"choices":[{"delta":{"role":"assistant"}}]}` + "\n"))
	_, _ = d.Write([]byte(`data: {"choices":[]}` + "\n"))
	_, _ = d.Write([]byte(frame("")))

	assert.Empty(t, *updates)
}

func TestDecoder_PartialTrailingLineIsDropped(t *testing.T) {
	d, updates := collect()

	_, _ = d.Write([]byte(frame("kept") + `data: {"choices":[{"delta":{"content":"lost"`))
	final := d.Finish()

	assert.Equal(t, "kept", final.Content)
	assert.Len(t, *updates, 2)
}

func TestDecoder_WriteAfterFinishFails(t *testing.T) {
	d, _ := collect()
	d.Finish()

	_, err := d.Write([]byte(frame("late")))
	assert.ErrorIs(t, err, ErrFinished)
}

func TestDecoder_ReadFrom(t *testing.T) {
	d, _ := collect()
	body := frame("a") + frame("b") + "data: [DONE]\n"

	n, err := d.ReadFrom(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)
	assert.Equal(t, "ab", d.Finish().Content)
}

// =============================================================================
// REASONING
// =============================================================================

func TestDecoder_UnclosedReasoningIsClosedOnFinish(t *testing.T) {
	d, updates := collect()

	_, _ = d.Write([]byte(frame("<think>still going")))
	final := d.Finish()

	assert.Equal(t, "<think>still going</think>", final.Content)
	assert.False(t, final.InReasoning)
	assert.True(t, final.Final)
	// fragment, synthesized close, final
	require.Len(t, *updates, 3)
	assert.False(t, (*updates)[1].Final)
}

func TestDecoder_BothMarkersInOneFragment(t *testing.T) {
	d, _ := collect()

	_, _ = d.Write([]byte(frame("pre<think>idea</think>post")))
	u := d.Snapshot()

	assert.Equal(t, "pre<think>idea</think>post", u.Content)
	assert.Equal(t, "idea", u.Reasoning)
	assert.False(t, u.InReasoning)
}

func TestDecoder_MarkerSplitAcrossFragments(t *testing.T) {
	d, updates := collect()

	for _, part := range []string{"<th", "ink>deep", " thought</th", "ink>done"} {
		_, _ = d.Write([]byte(frame(part)))
	}
	final := d.Finish()

	assert.Equal(t, "<think>deep thought</think>done", final.Content)
	assert.Equal(t, "deep thought", final.Reasoning)
	assert.Equal(t, []string{
		"<th",
		"<think>deep",
		"<think>deep thought</th",
		"<think>deep thought</think>done",
		"<think>deep thought</think>done",
	}, contents(*updates))
	assert.False(t, (*updates)[0].InReasoning, "partial open marker is not recognized yet")
	assert.True(t, (*updates)[1].InReasoning)
	assert.Equal(t, "deep thought</th", (*updates)[2].Reasoning)
}

func TestDecoder_PartialMarkerIsVisibleBeforeFinish(t *testing.T) {
	d, updates := collect()

	_, _ = d.Write([]byte(frame("a < b <")))
	assert.Equal(t, "a < b <", d.Snapshot().Content)
	assert.Equal(t, "a < b <", (*updates)[0].Content)

	_, _ = d.Write([]byte(frame("c")))
	assert.Equal(t, "a < b <c", d.Snapshot().Content)
	assert.Equal(t, "a < b <c", d.Finish().Content)
}

func TestDecoder_SecondReasoningSectionReplacesAccumulator(t *testing.T) {
	d, _ := collect()

	_, _ = d.Write([]byte(frame("<think>one</think>x<think>two")))
	u := d.Snapshot()

	assert.Equal(t, "<think>one</think>x<think>two", u.Content)
	assert.Equal(t, "two", u.Reasoning)
	assert.True(t, u.InReasoning)
}

// =============================================================================
// METRICS
// =============================================================================

func TestDecoder_TokensRoundUpPerFragment(t *testing.T) {
	d, updates := collect()

	for _, part := range []string{"abcde", "f", "ghij"} {
		_, _ = d.Write([]byte(frame(part)))
	}

	// ceil(5/4)+ceil(1/4)+ceil(4/4) = 2+1+1
	assert.Equal(t, []int{2, 3, 4}, []int{
		(*updates)[0].TokenCount, (*updates)[1].TokenCount, (*updates)[2].TokenCount,
	})
}

func TestDecoder_RateUsesElapsedTime(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0), step: 500 * time.Millisecond}
	d, updates := collect(WithClock(clock.now))

	_, _ = d.Write([]byte(frame("12345678"))) // 2 tokens

	u := (*updates)[0]
	assert.Equal(t, 500*time.Millisecond, u.Elapsed)
	assert.InDelta(t, 4.0, u.TokensPerSecond, 1e-9)
}

func TestDecoder_ZeroElapsedGivesZeroRate(t *testing.T) {
	fixed := time.Unix(100, 0)
	d, updates := collect(WithClock(func() time.Time { return fixed }))

	_, _ = d.Write([]byte(frame("text")))

	assert.Equal(t, 1, (*updates)[0].TokenCount)
	assert.Zero(t, (*updates)[0].TokensPerSecond)
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"😀😀", 1}, // four UTF-16 units
		{"😀😀😀", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.in), tt.in)
	}
}

// =============================================================================
// SPLIT
// =============================================================================

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Sections
	}{
		{"plain", "just text", Sections{Answer: "just text"}},
		{"closed", "<think> plan </think>\n\nresult", Sections{Reasoning: "plan", Answer: "result"}},
		{"text around", "intro <think>why</think> outro", Sections{Reasoning: "why", Answer: "intro  outro"}},
		{"open", "lead<think>still thinking ", Sections{Reasoning: "still thinking", Answer: "lead", Open: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.content))
		})
	}
}
