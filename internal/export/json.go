// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeranaias/localai-chat/internal/model"
)

// ErrInvalidFormat indicates import data that is not a chat history export.
var ErrInvalidFormat = errors.New("invalid chat data format")

// =============================================================================
// FULL STATE
// =============================================================================

// State renders the whole repository state as indented JSON.
func State(st model.State) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode chat history: %w", err)
	}
	return data, nil
}

// Import parses data produced by State. The data must be a JSON object with
// a "sessions" array; anything else fails with ErrInvalidFormat.
func Import(data []byte) (model.State, error) {
	var probe struct {
		Sessions json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return model.State{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	raw := bytes.TrimSpace(probe.Sessions)
	if len(raw) == 0 || raw[0] != '[' {
		return model.State{}, fmt.Errorf("%w: missing sessions array", ErrInvalidFormat)
	}

	var st model.State
	if err := json.Unmarshal(data, &st); err != nil {
		return model.State{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if st.Sessions == nil {
		st.Sessions = []model.Session{}
	}
	return st, nil
}

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports a single session as JSON.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Export converts a session to indented JSON.
func (e *JSONExporter) Export(s model.Session) ([]byte, error) {
	if s.Messages == nil {
		s.Messages = []model.Message{}
	}
	return json.MarshalIndent(s, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
