// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog turns the server's model ids into a display list.
//
// Ids of the form "org/base-name@quant" are grouped by the part before the
// '@'. Quantized variants of a base model get the quantization appended to
// their display name so they remain distinguishable.
package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Model is one selectable model.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Build groups ids and returns them sorted by display name.
func Build(ids []string) []Model {
	groups := make(map[string][]string)
	var order []string
	for _, id := range ids {
		base := BaseName(id)
		if _, seen := groups[base]; !seen {
			order = append(order, base)
		}
		groups[base] = append(groups[base], id)
	}

	models := make([]Model, 0, len(ids))
	for _, base := range order {
		members := groups[base]
		for _, id := range members {
			name := DisplayName(base)
			if quant := Quantization(id); len(members) > 1 && quant != "" {
				name += " (" + quant + ")"
			}
			models = append(models, Model{ID: id, Name: name})
		}
	}

	Sort(models)
	return models
}

// Sort orders models by display name using English collation.
func Sort(models []Model) {
	c := collate.New(language.English)
	// stable so ties keep server order
	sort.SliceStable(models, func(i, j int) bool {
		return c.CompareString(models[i].Name, models[j].Name) < 0
	})
}

// BaseName returns the id without its quantization suffix.
func BaseName(id string) string {
	base, _, _ := strings.Cut(id, "@")
	return base
}

// Quantization returns the text after the first '@', if any.
func Quantization(id string) string {
	_, quant, _ := strings.Cut(id, "@")
	if i := strings.IndexByte(quant, '@'); i >= 0 {
		quant = quant[:i]
	}
	return quant
}

// DisplayName derives a readable name from a base name: the last path
// segment with dashes turned into spaces.
func DisplayName(base string) string {
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return strings.ReplaceAll(base, "-", " ")
}

// Find returns the model with id.
func Find(models []Model, id string) (Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// IDs returns the ids of models in order.
func IDs(models []Model) []string {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids
}
