// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "strings"

// Sections is stored message content divided for display.
type Sections struct {
	Reasoning string
	Answer    string
	// Open is true when the content has an open marker but no close
	// marker, as while a response is still streaming.
	Open bool
}

// Split divides stored content at the first reasoning section. Text before
// the open marker and after the close marker forms the answer. Content
// without an open marker is returned whole as the answer.
func Split(content string) Sections {
	start := strings.Index(content, OpenMarker)
	if start < 0 {
		return Sections{Answer: content}
	}
	before := content[:start]
	rest := content[start+len(OpenMarker):]

	end := strings.Index(rest, CloseMarker)
	if end < 0 {
		return Sections{
			Reasoning: strings.TrimSpace(rest),
			Answer:    strings.TrimSpace(before),
			Open:      true,
		}
	}
	return Sections{
		Reasoning: strings.TrimSpace(rest[:end]),
		Answer:    strings.TrimSpace(before + rest[end+len(CloseMarker):]),
	}
}
