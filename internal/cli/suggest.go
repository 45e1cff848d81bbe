// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// suggest.go - Slash command suggestion for typo correction.
package cli

import (
	"strings"
)

// SuggestCommand returns the slash command closest to input, or "" when
// nothing is close enough. Distance threshold scales with command length.
func SuggestCommand(input string) string {
	input = strings.ToLower(strings.TrimPrefix(input, "/"))
	if input == "" {
		return ""
	}

	bestMatch := ""
	bestDistance := len(input) + 1
	for _, c := range slashCommands {
		for _, name := range c.names {
			candidate := strings.TrimPrefix(name, "/")
			d := levenshteinDistance(input, candidate)
			if d < bestDistance {
				bestDistance = d
				bestMatch = c.names[0]
			}
		}
	}

	threshold := 2
	if len(input) <= 3 {
		threshold = 1
	}
	if bestDistance > threshold {
		return ""
	}
	return bestMatch
}

// levenshteinDistance calculates the edit distance between two strings.
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	cols := len(s2) + 1

	// Two rows instead of a full matrix
	prev := make([]int, cols)
	curr := make([]int, cols)
	for j := 0; j < cols; j++ {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j < cols; j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[cols-1]
}
