// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// Severity classifies a notification.
type Severity int

const (
	// SeverityInfo is a neutral notice.
	SeverityInfo Severity = iota

	// SeverityDestructive reports a failed user action.
	SeverityDestructive
)

// String returns the severity name.
func (s Severity) String() string {
	if s == SeverityDestructive {
		return "destructive"
	}
	return "info"
}

// Notification is a short user-facing message.
type Notification struct {
	Severity    Severity
	Title       string
	Description string
}

// Notifier shows notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// Fixed notification texts.
var (
	sendFailed = Notification{
		Severity:    SeverityDestructive,
		Title:       "Error",
		Description: "Failed to send message. Please try again.",
	}
	modelsFailed = Notification{
		Severity:    SeverityDestructive,
		Title:       "Error fetching models",
		Description: "Could not fetch available models.",
	}
	noModels = Notification{
		Severity:    SeverityDestructive,
		Title:       "No models available",
		Description: "Please wait for models to load or check your API connection.",
	}
)
