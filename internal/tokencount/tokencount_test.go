package tokencount

import "testing"

func TestEstimateRequest(t *testing.T) {
	c := NewCounter()

	t.Run("chat body counts messages", func(t *testing.T) {
		// role "user" (1) + content `"abcdefgh"` raw 10 bytes (3) + overhead 4,
		// plus 3 priming tokens.
		body := []byte(`{"model": "gpt-4", "messages": [{"role": "user", "content": "abcdefgh"}]}`)
		if got := c.EstimateRequest(body); got != 11 {
			t.Errorf("estimate = %d, want 11", got)
		}
	})

	t.Run("tool calls add to the estimate", func(t *testing.T) {
		plain := []byte(`{"messages": [{"role": "assistant", "content": ""}]}`)
		withTools := []byte(`{"messages": [{"role": "assistant", "content": "", "tool_calls": [{"id": "call_1", "function": {"name": "f", "arguments": "{}"}}]}]}`)
		if c.EstimateRequest(withTools) <= c.EstimateRequest(plain) {
			t.Error("tool calls did not increase the estimate")
		}
	})

	t.Run("non-chat body falls back to length", func(t *testing.T) {
		body := []byte(`{"input": "hello world, this is an embeddings request"}`)
		want := (len(body) + 3) / 4
		if got := c.EstimateRequest(body); got != want {
			t.Errorf("estimate = %d, want %d", got, want)
		}
	})

	t.Run("empty body estimates at least one token", func(t *testing.T) {
		if got := c.EstimateRequest(nil); got < 1 {
			t.Errorf("estimate = %d", got)
		}
	})
}

func TestCountText(t *testing.T) {
	c := NewCounter()
	tests := []struct {
		text string
		want int
	}{
		{"", 1},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"aaaaaaaa", 2},
	}
	for _, tt := range tests {
		if got := c.CountText(tt.text); got != tt.want {
			t.Errorf("CountText(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
