// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// printer.go - Live terminal output of a streaming reply.
//
// The printer follows repository snapshots rather than the network stream,
// so what is shown is exactly what is persisted.

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/localai-chat/internal/model"
	"github.com/jeranaias/localai-chat/internal/stream"
	"github.com/jeranaias/localai-chat/internal/ui/styles"
)

// DefaultStatusInterval is the minimum time between status line redraws.
const DefaultStatusInterval = 250 * time.Millisecond

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\x1b[K"

// printerOptions selects what the printer shows.
type printerOptions struct {
	// Markdown renders the answer once finished instead of streaming it.
	Markdown *markdownRenderer

	ShowReasoning bool
	ShowStats     bool

	// Live allows a redrawn status line; only set on terminals.
	Live           bool
	StatusInterval time.Duration
}

// streamPrinter mirrors one assistant reply to out while it streams.
type streamPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	theme   *styles.Theme
	opts    printerOptions
	limiter *rate.Limiter

	sessionID string
	index     int

	reasoning string // reasoning already written
	answer    string // answer already written
	midLine   bool   // last write did not end a line
	status    bool   // a status line is on screen
	finished  bool
}

// newStreamPrinter follows the message at index in sessionID.
func newStreamPrinter(out io.Writer, theme *styles.Theme, sessionID string, index int, opts printerOptions) *streamPrinter {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	return &streamPrinter{
		out:       out,
		theme:     theme,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Every(opts.StatusInterval), 1),
		sessionID: sessionID,
		index:     index,
	}
}

// Reply finds the followed message in st.
func (p *streamPrinter) Reply(st model.State) (model.Message, bool) {
	i := st.SessionIndex(p.sessionID)
	if i < 0 || p.index >= len(st.Sessions[i].Messages) {
		return model.Message{}, false
	}
	m := st.Sessions[i].Messages[p.index]
	if m.Role != model.RoleAssistant {
		return model.Message{}, false
	}
	return m, true
}

// Observe is a session.Listener.
func (p *streamPrinter) Observe(st model.State) {
	m, ok := p.Reply(st)
	if !ok || !m.IsLoading {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}

	secs := stream.Split(m.Content)
	progressed := p.writeReasoning(secs.Reasoning)
	if p.opts.Markdown == nil && p.writeAnswer(secs.Answer) {
		progressed = true
	}
	if !progressed && p.opts.Live && p.limiter.Allow() {
		p.showStatus(m)
	}
}

// Finish writes whatever the final message adds and closes the output.
func (p *streamPrinter) Finish(m model.Message, stopped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true
	p.clearStatus()

	if m.HasError() {
		p.endLine()
		p.write(p.theme.MessageError.Render(m.Content) + "\n")
		p.write(p.theme.Muted.Render(m.Error) + "\n")
		return
	}

	secs := stream.Split(m.Content)
	p.writeReasoning(secs.Reasoning)
	if p.opts.Markdown != nil {
		if secs.Answer != "" {
			p.separateAnswer()
			p.write(p.opts.Markdown.Render(secs.Answer))
			p.midLine = true
		}
	} else {
		p.writeAnswer(secs.Answer)
	}
	p.endLine()

	if secs.Answer == "" && secs.Reasoning == "" {
		p.write(p.theme.Muted.Render("(no response)") + "\n")
	}
	if stopped {
		p.write(p.theme.Muted.Render("[Stopped]") + "\n")
	}
	if p.opts.ShowStats && m.TokenCount > 0 {
		p.write(p.theme.Stats.Render(statsLine(m)) + "\n")
	}
}

func (p *streamPrinter) writeReasoning(reasoning string) bool {
	if !p.opts.ShowReasoning {
		return false
	}
	d, ok := grown(p.reasoning, reasoning)
	if !ok || d == "" {
		return false
	}
	p.clearStatus()
	p.write(paint(p.theme.Reasoning, d))
	p.midLine = !strings.HasSuffix(d, "\n")
	p.reasoning = reasoning
	return true
}

func (p *streamPrinter) writeAnswer(answer string) bool {
	d, ok := grown(p.answer, answer)
	if !ok || d == "" {
		return false
	}
	p.clearStatus()
	if p.answer == "" {
		p.separateAnswer()
	}
	p.write(d)
	p.midLine = !strings.HasSuffix(d, "\n")
	p.answer = answer
	return true
}

// separateAnswer puts a blank line between shown reasoning and the answer.
func (p *streamPrinter) separateAnswer() {
	if p.reasoning != "" {
		p.endLine()
		p.write("\n")
	}
}

func (p *streamPrinter) showStatus(m model.Message) {
	p.endLine()
	p.write(clearLine + p.theme.Stats.Render(fmt.Sprintf("generating... %d tokens, %.1f tok/s",
		m.TokenCount, m.TokensPerSecond)))
	p.status = true
}

func (p *streamPrinter) clearStatus() {
	if p.status {
		p.write(clearLine)
		p.status = false
	}
}

func (p *streamPrinter) endLine() {
	if p.midLine {
		p.write("\n")
		p.midLine = false
	}
}

func (p *streamPrinter) write(s string) {
	_, _ = io.WriteString(p.out, s)
}

// grown returns what next adds to printed. ok is false when next no longer
// starts with printed.
func grown(printed, next string) (string, bool) {
	if !strings.HasPrefix(next, printed) {
		return "", false
	}
	return next[len(printed):], true
}

// statsLine formats generation metrics of m.
func statsLine(m model.Message) string {
	return fmt.Sprintf("Tokens: %d | Duration: %.2fs | Speed: %.1f tok/s",
		m.TokenCount, m.GenerationTimeSeconds, m.TokensPerSecond)
}
