package segment

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/tvkpi/pkg/common"
)

const paragraphSeparator = "\n\n"

// SplitParagraphs splits text on blank lines. Paragraphs that are empty after
// trimming are dropped and the remaining ones are numbered consecutively.
func SplitParagraphs(text string) []common.Paragraph {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var paragraphs []common.Paragraph
	for part := range strings.SplitSeq(text, paragraphSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		paragraphs = append(paragraphs, common.Paragraph{
			Index:     len(paragraphs),
			Text:      part,
			CharCount: utf8.RuneCountInString(part),
		})
	}
	return paragraphs
}

// FindKeywords returns the keywords contained in text, compared
// case-insensitively, in the order they appear in keywords.
func FindKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range keywords {
		if kw == "" || slices.Contains(found, kw) {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			found = append(found, kw)
		}
	}
	return found
}

// MatchParagraphs returns one match per paragraph containing a keyword. The
// context of paragraph i is paragraphs [i-window, i+window] clamped to the
// document, joined by blank lines.
func MatchParagraphs(paragraphs []common.Paragraph, keywords []string, window int) []common.KeywordMatch {
	window = max(window, 0)

	var matches []common.KeywordMatch
	for i, p := range paragraphs {
		found := FindKeywords(p.Text, keywords)
		if len(found) == 0 {
			continue
		}
		start := max(0, i-window)
		end := min(len(paragraphs)-1, i+window)
		matches = append(matches, common.KeywordMatch{
			ParagraphIndex:  p.Index,
			MatchedKeywords: found,
			ContextText:     joinParagraphs(paragraphs[start : end+1]),
			StartParagraph:  start,
			EndParagraph:    end,
		})
	}
	return matches
}

// MergeMatches collapses matches whose seed paragraph lies within 2*window
// of the first seed of the running span. Keyword sets are unioned in
// keywords order and only paragraphs not yet covered by the span are
// appended to its text, so a merged span never repeats a paragraph.
func MergeMatches(paragraphs []common.Paragraph, matches []common.KeywordMatch, keywords []string, window int) []common.MergedSpan {
	window = max(window, 0)
	if len(matches) == 0 {
		return nil
	}

	var spans []common.MergedSpan
	current := spanFromMatch(matches[0])
	for _, next := range matches[1:] {
		if next.ParagraphIndex-current.ParagraphIndex <= 2*window {
			current = mergeInto(current, next, paragraphs, keywords)
			continue
		}
		spans = append(spans, finish(current))
		current = spanFromMatch(next)
	}
	spans = append(spans, finish(current))
	return spans
}

// SegmentAndMatch splits text into paragraphs, finds keyword paragraphs and
// merges their context windows. A text without keywords yields no spans.
func SegmentAndMatch(text string, keywords []string, window int) []common.MergedSpan {
	paragraphs := SplitParagraphs(text)
	matches := MatchParagraphs(paragraphs, keywords, window)
	return MergeMatches(paragraphs, matches, keywords, window)
}

// Segment runs SegmentAndMatch and adds document level statistics.
func Segment(text string, keywords []string, window int) common.SegmentationResult {
	paragraphs := SplitParagraphs(text)
	matches := MatchParagraphs(paragraphs, keywords, window)
	spans := MergeMatches(paragraphs, matches, keywords, window)

	var found []string
	total := 0
	for _, s := range spans {
		found = unionOrdered(found, s.MatchedKeywords, keywords)
		total += s.CharCount
	}

	return common.SegmentationResult{
		Spans:          spans,
		FoundKeywords:  found,
		ParagraphCount: len(spans),
		TotalChars:     total,
	}
}

// CombineSpans joins span texts into the single excerpt sent for extraction.
func CombineSpans(spans []common.MergedSpan) string {
	texts := make([]string, 0, len(spans))
	for _, s := range spans {
		texts = append(texts, s.Text)
	}
	return strings.Join(texts, paragraphSeparator)
}

func spanFromMatch(m common.KeywordMatch) common.MergedSpan {
	return common.MergedSpan{
		ParagraphIndex:     m.ParagraphIndex,
		LastParagraphIndex: m.ParagraphIndex,
		StartParagraph:     m.StartParagraph,
		EndParagraph:       m.EndParagraph,
		MatchedKeywords:    slices.Clone(m.MatchedKeywords),
		Text:               m.ContextText,
	}
}

func mergeInto(span common.MergedSpan, next common.KeywordMatch, paragraphs []common.Paragraph, keywords []string) common.MergedSpan {
	span.MatchedKeywords = unionOrdered(span.MatchedKeywords, next.MatchedKeywords, keywords)
	span.LastParagraphIndex = next.ParagraphIndex

	// Windows overlap, so only paragraphs past the span's end are new.
	from := max(next.StartParagraph, span.EndParagraph+1)
	if from <= next.EndParagraph {
		span.Text += paragraphSeparator + joinParagraphs(paragraphs[from:next.EndParagraph+1])
		span.EndParagraph = next.EndParagraph
	}
	return span
}

func finish(span common.MergedSpan) common.MergedSpan {
	span.CharCount = utf8.RuneCountInString(span.Text)
	return span
}

// unionOrdered merges b into a, ordering the result by the position of each
// keyword in order. Keywords unknown to order are kept at the end.
func unionOrdered(a, b, order []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for _, k := range order {
		if _, ok := set[k]; ok {
			out = append(out, k)
			delete(set, k)
		}
	}
	for _, k := range append(slices.Clone(a), b...) {
		if _, ok := set[k]; ok {
			out = append(out, k)
			delete(set, k)
		}
	}
	return out
}

func joinParagraphs(paragraphs []common.Paragraph) string {
	texts := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, paragraphSeparator)
}
