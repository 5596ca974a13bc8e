// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jsonutil holds the small JSON-extraction helper that
// llmedit, repair, and judge each need when parsing a model's raw
// completion text: every one of those packages asks an LLM for a JSON
// object and gets back prose wrapped around it more often than not.
// Kept as one shared helper instead of three identical copies.
package jsonutil

import "strings"

// ExtractJSON trims any leading/trailing prose a model adds around the
// JSON object, taking the first '{' through the last '}'. Returns text
// unchanged if no object delimiters are found.
func ExtractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
