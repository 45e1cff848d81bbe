// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the localai-chat command line: an interactive chat
// REPL and non-interactive subcommands over the same chat core.
//
// # Key Types
//
//   - App: the store, session repository, preferences and chat controller
//     of one invocation
//   - REPL: the interactive chat loop with slash commands
//   - BuildInfo: version data injected at build time
//
// # Usage
//
//	func main() {
//	    os.Exit(cli.Execute(cli.BuildInfo{Version: version}))
//	}
//
// # Commands Overview
//
//   - (none): interactive chat
//   - ask: send one message and print the streamed reply
//   - models: list server models
//   - sessions: list, show, select and delete saved chats
//   - export / import: move chat history in and out as JSON or Markdown
//   - config: show, locate or create the configuration file
//   - version: print build information
//
// # Output
//
// Replies are printed from repository snapshots while they stream, so the
// screen always matches what is saved. Reasoning sections are dimmed and
// kept apart from the answer. Colors follow NO_COLOR, FORCE_COLOR and
// --no-color.
//
// # Exit Codes
//
// Errors map to stable exit codes (see GetExitCode): 2 for usage, 3 for
// configuration, 4 for authentication, 5 for network, 7 for not found and
// 8 for timeouts.
package cli
