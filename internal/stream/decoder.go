// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes chat-completion event streams into message text.
//
// A Decoder is fed raw response bytes in arbitrarily sized chunks. It frames
// them into lines, extracts the delta text from each data frame, separates
// inline reasoning sections delimited by <think> and </think>, and reports
// running token metrics after every fragment.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/localai-chat/internal/util"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// OpenMarker starts an inline reasoning section.
	OpenMarker = "<think>"

	// CloseMarker ends an inline reasoning section.
	CloseMarker = "</think>"

	// DoneSentinel is the payload of the terminating frame.
	DoneSentinel = "[DONE]"

	// MaxLineSize bounds a single buffered line. Longer lines are dropped.
	MaxLineSize = 1024 * 1024

	// CharsPerToken is the divisor of the token estimate.
	CharsPerToken = 4

	dataPrefix = "data:"
)

// ErrFinished is returned by Write after Finish has been called.
var ErrFinished = errors.New("stream: decoder already finished")

// =============================================================================
// STREAMING TYPES
// =============================================================================

// Update is a snapshot of decoded progress.
type Update struct {
	// Content is the visible message text, reasoning markers included.
	Content string

	// Reasoning is the text of the most recent reasoning section.
	Reasoning string

	// InReasoning is true while an opened section has not been closed.
	InReasoning bool

	TokenCount      int
	TokensPerSecond float64
	Elapsed         time.Duration

	// Final is set on the snapshot emitted by Finish.
	Final bool
}

// UpdateFunc receives every Update in order.
type UpdateFunc func(Update)

// chunkFrame is the subset of a streamed completion chunk the decoder reads.
type chunkFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns a byte stream into Updates. It is not safe for concurrent
// use; one decoder serves one response.
type Decoder struct {
	onUpdate UpdateFunc
	logger   *zap.Logger
	now      func() time.Time
	start    time.Time

	line []byte // bytes after the last newline

	// head is the visible text up to and including the last open marker,
	// or everything when not in a reasoning section.
	head        strings.Builder
	reasoning   strings.Builder
	inReasoning bool
	// pending holds a trailing partial marker until the next fragment. It
	// is already visible in updates; only marker recognition waits for it.
	pending string

	tokens    int
	frames    int
	malformed int
	sawDone   bool
	finished  bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for skipped frames.
func WithLogger(l *zap.Logger) Option {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		if now != nil {
			d.now = now
		}
	}
}

// WithStart sets the instant elapsed time is measured from. It defaults to
// the decoder's creation time.
func WithStart(t time.Time) Option {
	return func(d *Decoder) {
		d.start = t
	}
}

// NewDecoder creates a decoder delivering updates to fn.
func NewDecoder(fn UpdateFunc, opts ...Option) *Decoder {
	d := &Decoder{
		onUpdate: fn,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.start.IsZero() {
		d.start = d.now()
	}
	if d.onUpdate == nil {
		d.onUpdate = func(Update) {}
	}
	return d
}

// =============================================================================
// LINE FRAMING
// =============================================================================

// Write implements io.Writer. Only complete lines are processed; a trailing
// partial line waits for the next call.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.finished {
		return 0, ErrFinished
	}
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			d.line = append(d.line, p...)
			if len(d.line) > MaxLineSize {
				d.logger.Warn("dropping oversized stream line", zap.Int("bytes", len(d.line)))
				d.line = d.line[:0]
				d.malformed++
			}
			break
		}
		d.line = append(d.line, p[:i]...)
		d.processLine(string(d.line))
		d.line = d.line[:0]
		p = p[i+1:]
	}
	return n, nil
}

// ReadFrom implements io.ReaderFrom. It consumes r until EOF or a read
// error; a cancelled request surfaces here as the read error.
func (d *Decoder) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, 4096)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if _, werr := d.Write(buf[:n]); werr != nil {
				return total, werr
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// processLine handles one complete line.
// STREAMING: Robust SSE parsing with error handling
func (d *Decoder) processLine(line string) {
	line = strings.TrimRight(line, "\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if strings.HasPrefix(trimmed, ":") {
		// SSE comment / keep-alive
		return
	}

	payload := trimmed
	if strings.HasPrefix(payload, dataPrefix) {
		payload = strings.TrimSpace(strings.TrimPrefix(payload, dataPrefix))
	}
	if payload == DoneSentinel {
		d.sawDone = true
		return
	}

	var frame chunkFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		d.malformed++
		d.logger.Warn("skipping malformed stream frame",
			zap.String("line", util.TruncateRunes(trimmed, 200)),
			zap.Error(err))
		return
	}
	d.frames++
	if frame.Error != nil && frame.Error.Message != "" {
		d.logger.Warn("server reported error in stream", zap.String("message", frame.Error.Message))
		return
	}
	if len(frame.Choices) == 0 {
		return
	}
	d.fragment(frame.Choices[0].Delta.Content)
}

// =============================================================================
// REASONING STATE MACHINE
// =============================================================================

// fragment applies one delta and emits an update.
func (d *Decoder) fragment(text string) {
	if text == "" {
		return
	}
	d.tokens += EstimateTokens(text)
	d.absorb(d.pending + text)
	d.emit(false)
}

// absorb routes text through the marker state machine. Any suffix that could
// still become a marker is kept in pending.
func (d *Decoder) absorb(text string) {
	d.pending = ""
	for {
		if !d.inReasoning {
			i := strings.Index(text, OpenMarker)
			if i < 0 {
				break
			}
			d.head.WriteString(text[:i])
			d.head.WriteString(OpenMarker)
			d.reasoning.Reset()
			d.inReasoning = true
			text = text[i+len(OpenMarker):]
			continue
		}
		i := strings.Index(text, CloseMarker)
		if i < 0 {
			break
		}
		d.reasoning.WriteString(text[:i])
		d.head.WriteString(d.reasoning.String())
		d.head.WriteString(CloseMarker)
		d.inReasoning = false
		text = text[i+len(CloseMarker):]
	}

	marker := OpenMarker
	if d.inReasoning {
		marker = CloseMarker
	}
	if k := partialMarkerSuffix(text, marker); k > 0 {
		d.pending = text[len(text)-k:]
		text = text[:len(text)-k]
	}
	if d.inReasoning {
		d.reasoning.WriteString(text)
	} else {
		d.head.WriteString(text)
	}
}

// partialMarkerSuffix returns the length of the longest suffix of s that is
// a proper prefix of marker.
func partialMarkerSuffix(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(s, marker[:k]) {
			return k
		}
	}
	return 0
}

// =============================================================================
// TERMINATION
// =============================================================================

// Finish ends the stream. A trailing partial line is discarded, held-back
// marker text is flushed as literal text, an unclosed reasoning section is
// closed with a synthesized close marker, and a final update is emitted.
// It returns that final update. Calling Finish twice returns the same state.
func (d *Decoder) Finish() Update {
	if d.finished {
		return d.snapshot(true)
	}
	d.finished = true

	if len(d.line) > 0 {
		d.logger.Debug("discarding partial trailing line", zap.Int("bytes", len(d.line)))
		d.line = nil
	}
	if d.pending != "" {
		if d.inReasoning {
			d.reasoning.WriteString(d.pending)
		} else {
			d.head.WriteString(d.pending)
		}
		d.pending = ""
	}
	if d.inReasoning {
		d.head.WriteString(d.reasoning.String())
		d.head.WriteString(CloseMarker)
		d.inReasoning = false
		d.emit(false)
	}

	d.logger.Debug("stream finished",
		zap.Int("frames", d.frames),
		zap.Int("malformed", d.malformed),
		zap.Int("tokens", d.tokens),
		zap.Bool("done_sentinel", d.sawDone))
	return d.emit(true)
}

// Snapshot returns the current progress without emitting it.
func (d *Decoder) Snapshot() Update {
	return d.snapshot(d.finished)
}

// SawDone reports whether the [DONE] frame was received.
func (d *Decoder) SawDone() bool {
	return d.sawDone
}

// Malformed returns how many lines were skipped as unparseable.
func (d *Decoder) Malformed() int {
	return d.malformed
}

func (d *Decoder) emit(final bool) Update {
	u := d.snapshot(final)
	d.onUpdate(u)
	return u
}

func (d *Decoder) snapshot(final bool) Update {
	content := d.head.String()
	reasoning := d.reasoning.String()
	if d.inReasoning {
		reasoning += d.pending
		content += reasoning
	} else {
		content += d.pending
	}
	elapsed := d.now().Sub(d.start)
	if elapsed < 0 {
		elapsed = 0
	}
	return Update{
		Content:         content,
		Reasoning:       reasoning,
		InReasoning:     d.inReasoning,
		TokenCount:      d.tokens,
		TokensPerSecond: Rate(d.tokens, elapsed),
		Elapsed:         elapsed,
		Final:           final,
	}
}

// =============================================================================
// METRICS
// =============================================================================

// EstimateTokens estimates the tokens in one fragment as
// ceil(characters / 4), counting characters in UTF-16 code units.
func EstimateTokens(fragment string) int {
	n := util.UTF16Len(fragment)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / CharsPerToken))
}

// Rate returns tokens per second, or 0 when no time has elapsed.
func Rate(tokens int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(tokens) / elapsed.Seconds()
}
