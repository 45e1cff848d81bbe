// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/jeranaias/localai-chat/internal/chat"
	"github.com/jeranaias/localai-chat/internal/ui/styles"
)

// terminalNotifier prints notifications as single lines.
type terminalNotifier struct {
	mu    sync.Mutex
	w     io.Writer
	theme *styles.Theme
}

func newTerminalNotifier(w io.Writer, theme *styles.Theme) *terminalNotifier {
	if w == nil {
		w = io.Discard
	}
	return &terminalNotifier{w: w, theme: theme}
}

// Notify implements chat.Notifier.
func (n *terminalNotifier) Notify(note chat.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if note.Severity == chat.SeverityDestructive {
		fmt.Fprintf(n.w, "%s %s\n",
			n.theme.Danger.Render(styles.StatusIndicators.Error+" "+note.Title+":"),
			note.Description)
		return
	}
	fmt.Fprintf(n.w, "%s %s\n",
		n.theme.Notice.Render(styles.StatusIndicators.Info+" "+note.Title+":"),
		note.Description)
}
