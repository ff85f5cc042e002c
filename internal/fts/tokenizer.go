// Package fts pre-tokenizes message content before it reaches the
// FTS5 porter/unicode61 tokenizer, so CJK text (which unicode61 cannot
// segment on its own) still becomes searchable: gse segments Chinese
// runs into words, go-pinyin additionally emits one full-pinyin and one
// initial-letter token so "北京" is findable by "beijing" or "bj" too.
// The pinyin tokens cover all Chinese characters of the text joined
// together; separate Chinese runs do not get tokens of their own.
// Adapted from the teacher's internal/fts/tokenizer package,
// generalized from document/filename indexing to message content and
// search-query indexing.
package fts

import (
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
	"github.com/mozillazg/go-pinyin"
)

const (
	// MaxContentTokens bounds how many tokens a single piece of content
	// contributes to the index, preventing pathologically large
	// messages from bloating messages_fts.
	MaxContentTokens = 10000
	// MaxPinyinChars bounds how much Chinese text is fed through the
	// pinyin expander per call; pinyin.LazyPinyin is O(n) but walking
	// multi-kilobyte CJK runs on every message is wasted work.
	MaxPinyinChars = 200
)

var (
	segOnce sync.Once
	seg     gse.Segmenter
	segMu   sync.Mutex

	pinyinArgs pinyin.Args
)

func initSegmenter() {
	segOnce.Do(func() {
		seg.AlphaNum = true
		seg.SkipLog = true
		_ = seg.LoadDict()
		pinyinArgs = pinyin.NewArgs()
		pinyinArgs.Style = pinyin.Normal
		pinyinArgs.Fallback = func(r rune, a pinyin.Args) []string {
			return []string{string(r)}
		}
	})
}

// TokenizeContent turns raw message content into the space-joined
// token stream stored in messages_fts.content. Porter stemming and
// case folding are left to SQLite's own 'porter unicode61' tokenizer
// on top of this — TokenizeContent's job is only CJK segmentation and
// pinyin expansion, which unicode61 cannot do.
func TokenizeContent(content string) string {
	initSegmenter()

	segMu.Lock()
	tokens := seg.CutSearch(content, true)
	segMu.Unlock()

	seen := make(map[string]struct{})
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(result) >= MaxContentTokens {
			break
		}
		token = normalizeToken(token)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		result = append(result, token)
	}

	chineseText := extractChinese(content)
	if chineseText != "" && len([]rune(chineseText)) <= MaxPinyinChars {
		for _, pt := range generatePinyinTokens(chineseText) {
			if _, ok := seen[pt]; ok {
				continue
			}
			seen[pt] = struct{}{}
			result = append(result, pt)
		}
	}

	return strings.Join(result, " ")
}

// HasFTS5Syntax reports whether query already uses FTS5 MATCH operator
// syntax (quoted phrases, boolean operators, prefix match, column
// filters) that should be passed through to SQLite verbatim rather
// than tokenized as a bag of keywords.
func HasFTS5Syntax(query string) bool {
	upper := strings.ToUpper(query)
	if strings.Contains(query, `"`) || strings.Contains(query, "*") ||
		strings.Contains(query, "(") || strings.Contains(query, ")") ||
		strings.Contains(query, ":") {
		return true
	}
	for _, op := range []string{" AND ", " OR ", " NOT "} {
		if strings.Contains(upper, op) {
			return true
		}
	}
	return false
}

// BuildMatchQuery tokenizes a plain-keyword query (no explicit FTS5
// operators) into an implicit-AND prefix-match MATCH expression,
// additionally expanding any Chinese substring to pinyin tokens.
func BuildMatchQuery(keyword string) string {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return ""
	}

	initSegmenter()

	segMu.Lock()
	tokens := seg.CutSearch(keyword, true)
	segMu.Unlock()

	var queryParts []string
	seen := make(map[string]struct{})

	for _, token := range tokens {
		token = normalizeToken(token)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		queryParts = append(queryParts, escapeFTS5Token(token)+"*")
	}

	chineseText := extractChinese(keyword)
	if chineseText != "" && len([]rune(chineseText)) <= MaxPinyinChars {
		for _, pt := range generatePinyinTokens(chineseText) {
			if _, ok := seen[pt]; ok {
				continue
			}
			seen[pt] = struct{}{}
			queryParts = append(queryParts, escapeFTS5Token(pt)+"*")
		}
	}

	if len(queryParts) == 0 {
		return ""
	}
	return strings.Join(queryParts, " ")
}

func normalizeToken(token string) string {
	token = strings.TrimSpace(token)
	token = strings.ToLower(token)
	if token == "" {
		return ""
	}
	hasAlphaNum := false
	for _, r := range token {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlphaNum = true
			break
		}
	}
	if !hasAlphaNum {
		return ""
	}
	return token
}

func extractChinese(text string) string {
	var sb strings.Builder
	for _, r := range text {
		if isChinese(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isChinese(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

func generatePinyinTokens(chineseText string) []string {
	if chineseText == "" {
		return nil
	}
	pys := pinyin.LazyPinyin(chineseText, pinyinArgs)
	if len(pys) == 0 {
		return nil
	}

	var result []string
	fullPinyin := strings.Join(pys, "")
	if fullPinyin != "" {
		result = append(result, fullPinyin)
	}

	var abbrev strings.Builder
	for _, py := range pys {
		if len(py) > 0 {
			abbrev.WriteByte(py[0])
		}
	}
	if abbrev.Len() > 0 {
		result = append(result, abbrev.String())
	}
	return result
}

func escapeFTS5Token(token string) string {
	var sb strings.Builder
	for _, r := range token {
		switch r {
		case '"', '\'', '*', '(', ')', ':', '^', '-':
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
