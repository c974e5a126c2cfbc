package app

import "testing"

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "empty", in: "", want: 0},
		{name: "short ascii", in: "hello world", want: 5},
		{name: "ascii paragraph", in: "the quick brown fox jumps over the lazy dog", want: 21},
		{name: "cjk uses rune bound", in: "你好世界", want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.in); got != tt.want {
				t.Fatalf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEstimateTokensNeverNegative(t *testing.T) {
	if got := EstimateTokens("a"); got < 0 {
		t.Fatalf("EstimateTokens single rune = %d", got)
	}
}

func TestEstimateTranscriptTokens(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "hello world"},
		{Role: RoleAssistant, Content: ""},
	}
	want := EstimateTokens("hello world") + 4 + 0 + 4
	if got := EstimateTranscriptTokens(msgs); got != want {
		t.Fatalf("EstimateTranscriptTokens = %d, want %d", got, want)
	}
}

func TestContextWindow(t *testing.T) {
	tests := []struct {
		model string
		want  int
		ok    bool
	}{
		{model: "gpt-3.5-turbo", want: 16_385, ok: true},
		{model: "GPT-3.5-Turbo-0125", want: 16_385, ok: true},
		{model: "gpt-4o-mini", want: 128_000, ok: true},
		{model: "gpt-4", want: 8_192, ok: true},
		{model: "glm-5", want: 200_000, ok: true},
		{model: "", want: 0, ok: false},
		{model: "house-model-7b", want: 0, ok: false},
	}
	for _, tt := range tests {
		got, ok := ContextWindow(tt.model)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ContextWindow(%q) = %d, %v; want %d, %v", tt.model, got, ok, tt.want, tt.ok)
		}
	}
}
