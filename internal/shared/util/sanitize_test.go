package util

import (
	"strings"
	"testing"
)

func TestDisplayFileName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "receipt.jpg", want: "receipt.jpg"},
		{name: "unix traversal", in: "../../etc/passwd", want: "passwd"},
		{name: "windows path", in: `C:\Users\me\scan.pdf`, want: "scan.pdf"},
		{name: "control chars", in: "bad\x00name\n.png", want: "badname.png"},
		{name: "only dots", in: "..", want: "upload"},
		{name: "empty", in: "   ", want: "upload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayFileName(tt.in); got != tt.want {
				t.Fatalf("DisplayFileName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDisplayFileNameCapsLength(t *testing.T) {
	got := DisplayFileName(strings.Repeat("é", 300) + ".pdf")
	if n := len([]rune(got)); n != maxDisplayNameRunes {
		t.Fatalf("expected %d runes, got %d", maxDisplayNameRunes, n)
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Fatalf("extension must survive truncation, got %q", got)
	}
}

func TestDisplayFileNameDropsOversizedExtension(t *testing.T) {
	got := DisplayFileName("a." + strings.Repeat("x", 300))
	if n := len([]rune(got)); n != maxDisplayNameRunes {
		t.Fatalf("expected %d runes, got %d", maxDisplayNameRunes, n)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := Truncate("₹1,250.00 paid", 4); got != "₹1,2" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := Truncate("x", 0); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
