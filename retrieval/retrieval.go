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

// Package retrieval implements the retrieve(query, budgets) primitive
// as an external collaborator interface. It ships one concrete, local
// lexical adapter so the step executor's retrieve stage and the excerpt
// selector's file-selection priority order have something real to run
// against; a production deployment would swap this for a real index
// without changing the Retriever interface.
package retrieval

import (
	"context"
	"sort"

	"github.com/kalyank1144/ordinex/excerpt"
)

// Retriever is the out-of-scope collaborator interface: given a query
// and the workspace's candidate file set, return ranked hits.
type Retriever interface {
	Retrieve(ctx context.Context, query string, files map[string]string) ([]excerpt.RetrievalHit, error)
}

// LexicalRetriever ranks candidate files by keyword overlap between the
// query and each file's content, using excerpt.ExtractKeywords for
// tokenization so retrieval and excerpting agree on what a "keyword" is.
type LexicalRetriever struct{}

// NewLexicalRetriever constructs a LexicalRetriever.
func NewLexicalRetriever() *LexicalRetriever {
	return &LexicalRetriever{}
}

var _ Retriever = (*LexicalRetriever)(nil)

// Retrieve scores every candidate file by the count of query keywords
// that also appear among its own keywords, normalized by file keyword
// count so a short, tightly-matching file outranks a long file that only
// happens to contain a few of the same tokens. Zero-score files are
// dropped; ties break on path for determinism.
func (r *LexicalRetriever) Retrieve(ctx context.Context, query string, files map[string]string) ([]excerpt.RetrievalHit, error) {
	queryTokens := excerpt.ExtractKeywords(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}
	queryParas := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		queryParas[t] = true
	}

	var hits []excerpt.RetrievalHit
	for path, content := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		fileTokens := excerpt.ExtractKeywords(content)
		if len(fileTokens) == 0 {
			continue
		}
		matches := 0
		for _, t := range fileTokens {
			if queryParas[t] {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		score := float64(matches) / float64(len(fileTokens))
		hits = append(hits, excerpt.RetrievalHit{Path: path, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})
	return hits, nil
}
