package graph

import "testing"

func TestTruncatePreview(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short ascii", "hello world", "hello world"},
		{"exactly at limit", repeatRune('a', previewMaxLen), repeatRune('a', previewMaxLen)},
		{"over limit ascii", repeatRune('a', previewMaxLen+10), repeatRune('a', previewMaxLen) + "…"},
		{"over limit multibyte", repeatRune('中', previewMaxLen+5), repeatRune('中', previewMaxLen) + "…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncatePreview(tt.in); got != tt.want {
				t.Errorf("truncatePreview(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func repeatRune(r rune, n int) string {
	runes := make([]rune, n)
	for i := range runes {
		runes[i] = r
	}
	return string(runes)
}
