package fts

import "testing"

func TestHasFTS5Syntax(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"plain keyword", "python", false},
		{"multiple plain keywords", "python tutorial", false},
		{"quoted phrase", `"exact phrase"`, true},
		{"prefix wildcard", "pyth*", true},
		{"explicit AND", "python AND tutorial", true},
		{"explicit OR", "python OR golang", true},
		{"explicit NOT", "python NOT snake", true},
		{"column filter", "content:python", true},
		{"parens", "(python OR go)", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasFTS5Syntax(tt.query); got != tt.want {
				t.Errorf("HasFTS5Syntax(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestBuildMatchQueryEmpty(t *testing.T) {
	if got := BuildMatchQuery("   "); got != "" {
		t.Errorf("BuildMatchQuery(whitespace) = %q, want empty", got)
	}
}

func TestBuildMatchQueryPlainKeyword(t *testing.T) {
	got := BuildMatchQuery("Python")
	if got != "python*" {
		t.Errorf("BuildMatchQuery(%q) = %q, want %q", "Python", got, "python*")
	}
}

func TestBuildMatchQueryChineseExpandsToPinyin(t *testing.T) {
	got := BuildMatchQuery("北京")
	if got == "" {
		t.Fatal("BuildMatchQuery(chinese) = empty, want pinyin-expanded query")
	}
	if !containsSubstring(got, "beijing") && !containsSubstring(got, "bj") {
		t.Errorf("BuildMatchQuery(%q) = %q, want it to contain a pinyin expansion", "北京", got)
	}
}

func TestTokenizeContentDedupes(t *testing.T) {
	got := TokenizeContent("python python golang")
	count := 0
	for i := 0; i+len("python") <= len(got); i++ {
		if got[i:i+len("python")] == "python" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("TokenizeContent repeated keyword = %q, want exactly one occurrence of %q, got %d", got, "python", count)
	}
}

func containsSubstring(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
