package persist

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLen      = 50
	untitled         = "Untitled"
	fallbackResponse = "Your agent is ready. Open the preview to try it out."
)

var (
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	// A terminator ends a sentence only before whitespace or the end of text,
	// so file names like main.py stay whole.
	sentenceRe = regexp.MustCompile(`(?s).+?(?:[.!?]+(?:\s+|$)|$)`)
	wordRe     = regexp.MustCompile(`\w`)
)

// tagContent returns the trimmed text between <tag> and </tag>.
func tagContent(s, tag string) (string, bool) {
	open, closing := "<"+tag+">", "</"+tag+">"
	start := strings.Index(s, open)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(open):]
	end := strings.Index(rest, closing)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// summaryBody narrows s to its task_summary block when one is present.
func summaryBody(s string) string {
	if body, ok := tagContent(s, "task_summary"); ok {
		return body
	}
	return s
}

// ExtractTitle derives a fragment title from an agent summary: the <title>
// inside <task_summary>, else the first non-empty line (at most 50 chars),
// else "Untitled".
func ExtractTitle(summary string) string {
	body := summaryBody(summary)
	if t, ok := tagContent(body, "title"); ok && t != "" {
		return t
	}

	for _, line := range strings.Split(tagRe.ReplaceAllString(body, ""), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleLen {
			line = string([]rune(line)[:maxTitleLen])
		}
		return line
	}
	return untitled
}

// ExtractResponse derives the user-facing reply: the <response> tag, else the
// first two sentences with at least three word characters, else a stock line.
func ExtractResponse(summary string) string {
	body := summaryBody(summary)
	if r, ok := tagContent(body, "response"); ok && r != "" {
		return r
	}

	plain := strings.Join(strings.Fields(tagRe.ReplaceAllString(body, " ")), " ")
	var picked []string
	for _, s := range sentenceRe.FindAllString(plain, -1) {
		s = strings.TrimSpace(s)
		if len(wordRe.FindAllString(s, 3)) < 3 {
			continue
		}
		picked = append(picked, s)
		if len(picked) == 2 {
			break
		}
	}
	if len(picked) == 0 {
		return fallbackResponse
	}
	return strings.Join(picked, " ")
}
