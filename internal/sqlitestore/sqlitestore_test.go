package sqlitestore

import "testing"

func TestMemoryDSNRewritesSharedCache(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare memory path", ":memory:", "file::memory:?cache=shared"},
		{"on-disk path untouched", "/tmp/convostore.db", "/tmp/convostore.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := memoryDSN(tt.in); got != tt.want {
				t.Errorf("memoryDSN(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
