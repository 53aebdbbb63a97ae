package triage

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple lowercase",
			input: "Call Bank",
			want:  "call bank",
		},
		{
			name:  "trim whitespace",
			input: "  call bank  ",
			want:  "call bank",
		},
		{
			name:  "collapse internal whitespace",
			input: "call    bank",
			want:  "call bank",
		},
		{
			name:  "mixed case with extra spaces",
			input: "  Call   BANK  ",
			want:  "call bank",
		},
		{
			name:  "tabs and newlines",
			input: "call\t\n  bank",
			want:  "call bank",
		},
		{
			name:  "trailing space variant matches",
			input: "Call Bank ",
			want:  "call bank",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "only whitespace",
			input: "   \t\n   ",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCountChars(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{
			name:  "ascii only",
			input: "hello",
			want:  5,
		},
		{
			name:  "empty string",
			input: "",
			want:  0,
		},
		{
			name:  "unicode - emoji",
			input: "hello 👋",
			want:  7, // 5 letters + 1 space + 1 emoji (emoji is 4 bytes but 1 rune)
		},
		{
			name:  "unicode - accented",
			input: "café",
			want:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CountChars(tt.input)
			if got != tt.want {
				t.Errorf("CountChars(%q) = %d, want %d (len=%d bytes)", tt.input, got, tt.want, len(tt.input))
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{
			name:  "shorter than max unchanged",
			input: "short",
			max:   10,
			want:  "short",
		},
		{
			name:  "exact length unchanged",
			input: "12345",
			max:   5,
			want:  "12345",
		},
		{
			name:  "over max cut",
			input: "1234567890",
			max:   4,
			want:  "1234",
		},
		{
			name:  "multibyte runes not split",
			input: "日本語テキスト",
			max:   3,
			want:  "日本語",
		},
		{
			name:  "empty string",
			input: "",
			max:   5,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.input, tt.max)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{
			name:  "empty string",
			input: "",
			want:  0,
		},
		{
			name:  "single word",
			input: "hello",
			want:  2, // ceil(1 * 1.3) = 2
		},
		{
			name:  "ten words",
			input: "one two three four five six seven eight nine ten",
			want:  13, // ceil(10 * 1.3) = 13
		},
		{
			name:  "with extra whitespace",
			input: "  hello   world  ",
			want:  3, // still 2 words, ceil(2 * 1.3) = 3
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateTokens(tt.input)
			if got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
