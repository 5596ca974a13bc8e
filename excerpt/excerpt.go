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

// Package excerpt implements the excerpt selector: deterministic file
// and line-range selection for LLM context, within file-count and
// total-line budgets. Determinism is the point: given the same inputs,
// selection must reproduce byte-identical output, so every sort here is
// stable and every tie-break is explicit.
//
// The glob-based anchor fallback reuses bmatcuk/doublestar/v4 for
// anchor-list glob matching, the same library fence uses for its
// deny/allow policy.
package excerpt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kalyank1144/ordinex/contenthash"
)

// RetrievalHit is one candidate file surfaced by retrieval, before
// excerpting.
type RetrievalHit struct {
	Path  string
	Score float64
}

// Budgets bounds the selector's output.
type Budgets struct {
	MaxFiles            int
	FullFileThreshold    int // lines; files at or under this are included whole
	ImportCapLines       int
	ExportContextLines   int
	KeywordContextLines  int
	MaxTotalLines        int
}

// DefaultBudgets are the out-of-the-box selection limits.
var DefaultBudgets = Budgets{
	MaxFiles:           20,
	FullFileThreshold:   150,
	ImportCapLines:      30,
	ExportContextLines:  5,
	KeywordContextLines: 3,
	MaxTotalLines:       2000,
}

// Excerpt is one selected, line-numbered slice of a file.
type Excerpt struct {
	Path             string
	ContentWithLines string
	BaseSHA          string // sha of the FULL file, not the excerpt
	LineStart        int
	LineEnd          int
	IsFullFile       bool
}

// FileContent is what the caller supplies per candidate path: its full
// current text, used both to excerpt and to compute BaseSHA.
type FileContent map[string]string

// Select runs the excerpt pipeline: priority-ordered file selection,
// then per-file excerpting, budget-limited.
func Select(hits []RetrievalHit, openEditors []string, anchorGlobs []string, allPaths []string, stepText string, content FileContent, budgets Budgets) ([]Excerpt, error) {
	paths := selectFiles(hits, openEditors, anchorGlobs, allPaths, budgets.MaxFiles)

	keywords := ExtractKeywords(stepText)

	excerpts := make([]Excerpt, 0, len(paths))
	totalLines := 0
	for _, path := range paths {
		text, ok := content[path]
		if !ok {
			continue
		}
		fullSHA := contenthash.BaseSHA([]byte(text))
		lines := strings.Split(text, "\n")

		var exc Excerpt
		if len(lines) <= budgets.FullFileThreshold {
			excLines := len(lines)
			if totalLines+excLines > budgets.MaxTotalLines {
				break
			}
			exc = Excerpt{
				Path: path, ContentWithLines: numberedLines(lines, 1, len(lines)),
				BaseSHA: fullSHA, LineStart: 1, LineEnd: len(lines), IsFullFile: true,
			}
			totalLines += excLines
		} else {
			ranges := buildRanges(lines, keywords, budgets)
			ranges = fitRanges(ranges, budgets.MaxTotalLines-totalLines)
			if len(ranges) == 0 {
				continue
			}
			exc = Excerpt{
				Path: path, ContentWithLines: renderRanges(lines, ranges),
				BaseSHA: fullSHA, LineStart: ranges[0].start + 1, LineEnd: ranges[len(ranges)-1].end,
				IsFullFile: false,
			}
			totalLines += rangesLineCount(ranges)
		}

		excerpts = append(excerpts, exc)
		if totalLines >= budgets.MaxTotalLines {
			break
		}
	}
	return excerpts, nil
}

// fitRanges drops whole ranges from the tail of ranges (never splitting
// one) until their combined line count fits within remaining. A budget
// of 0 or less drops every range.
func fitRanges(ranges []lineRange, remaining int) []lineRange {
	if remaining <= 0 {
		return nil
	}
	kept := 0
	used := 0
	for _, r := range ranges {
		n := r.end - r.start
		if used+n > remaining {
			break
		}
		used += n
		kept++
	}
	return ranges[:kept]
}

func rangesLineCount(ranges []lineRange) int {
	total := 0
	for _, r := range ranges {
		total += r.end - r.start
	}
	return total
}

// selectFiles applies the (a) retrieval (b) open editors (c) anchor list
// priority order, stopping at maxFiles. Retrieval hits are sorted by
// descending score then ascending path for a stable, deterministic order.
func selectFiles(hits []RetrievalHit, openEditors []string, anchorGlobs []string, allPaths []string, maxFiles int) []string {
	sorted := append([]RetrievalHit(nil), hits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Path < sorted[j].Path
	})

	seen := make(map[string]struct{})
	var out []string
	add := func(path string) bool {
		if _, ok := seen[path]; ok {
			return true
		}
		if len(out) >= maxFiles {
			return false
		}
		seen[path] = struct{}{}
		out = append(out, path)
		return true
	}

	for _, h := range sorted {
		if !add(h.Path) {
			return out
		}
	}
	editors := append([]string(nil), openEditors...)
	sort.Strings(editors)
	for _, p := range editors {
		if !add(p) {
			return out
		}
	}

	var anchors []string
	for _, p := range allPaths {
		for _, g := range anchorGlobs {
			if ok, _ := doublestar.Match(g, p); ok {
				anchors = append(anchors, p)
				break
			}
		}
	}
	sort.Strings(anchors)
	for _, p := range anchors {
		if !add(p) {
			return out
		}
	}
	return out
}

type lineRange struct{ start, end int } // 0-based, end exclusive

func buildRanges(lines []string, keywords []string, b Budgets) []lineRange {
	var ranges []lineRange

	importEnd := 0
	for i, l := range lines {
		if i >= b.ImportCapLines {
			break
		}
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "import ") || strings.HasPrefix(t, "from ") || strings.HasPrefix(t, `"`) {
			importEnd = i + 1
		}
	}
	if importEnd > 0 {
		ranges = append(ranges, lineRange{0, importEnd})
	}

	exportRe := regexp.MustCompile(`\bexport\b`)
	for i, l := range lines {
		if exportRe.MatchString(l) {
			ranges = append(ranges, clampRange(i-b.ExportContextLines, i+b.ExportContextLines+1, len(lines)))
		}
	}

	for i, l := range lines {
		lower := strings.ToLower(l)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				ranges = append(ranges, clampRange(i-b.KeywordContextLines, i+b.KeywordContextLines+1, len(lines)))
				break
			}
		}
	}

	if len(ranges) == 0 && len(lines) < 100 {
		ranges = append(ranges, lineRange{0, min(50, len(lines))})
	}

	return mergeRanges(ranges)
}

func clampRange(start, end, max int) lineRange {
	if start < 0 {
		start = 0
	}
	if end > max {
		end = max
	}
	return lineRange{start, end}
}

func mergeRanges(ranges []lineRange) []lineRange {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	merged := []lineRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func renderRanges(lines []string, ranges []lineRange) string {
	var b strings.Builder
	for i, r := range ranges {
		if i > 0 {
			b.WriteString("...\n")
		}
		b.WriteString(numberedLines(lines[r.start:r.end], r.start+1, r.end))
	}
	return b.String()
}

func numberedLines(lines []string, startLine, endLine int) string {
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%d: %s\n", startLine+i, l)
	}
	return b.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var identifierRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// commonWords is the stopword set dropped during keyword extraction.
var commonWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "into": {}, "have": {}, "has": {}, "will": {}, "should": {},
	"step": {}, "please": {}, "need": {}, "needs": {}, "update": {}, "file": {},
	"add": {}, "create": {}, "make": {}, "use": {}, "using": {}, "can": {},
}

// ExtractKeywords tokenizes text on identifier boundaries, drops the
// common-word set, and keeps unique lowercase tokens of length >= 3.
func ExtractKeywords(text string) []string {
	tokens := identifierRe.FindAllString(text, -1)
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tokens {
		lower := strings.ToLower(t)
		if len(lower) < 3 {
			continue
		}
		if _, stop := commonWords[lower]; stop {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, lower)
	}
	sort.Strings(out)
	return out
}
