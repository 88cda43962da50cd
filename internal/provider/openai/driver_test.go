package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/farebox-io/farebox/internal/provider"
)

func TestPrepare(t *testing.T) {
	d := New("k", "", nil, nil)

	t.Run("streaming chat gets include_usage", func(t *testing.T) {
		body := []byte(`{"model": "gpt-4", "messages": [], "stream": true}`)
		out, err := d.Prepare(body, true)
		if err != nil {
			t.Fatal(err)
		}
		if !gjson.GetBytes(out, "stream_options.include_usage").Bool() {
			t.Errorf("include_usage not set: %s", out)
		}
	})

	t.Run("non-stream passes through", func(t *testing.T) {
		body := []byte(`{"model": "gpt-4", "messages": []}`)
		out, err := d.Prepare(body, false)
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != string(body) {
			t.Errorf("body changed: %s", out)
		}
	})

	t.Run("response api body passes through", func(t *testing.T) {
		body := []byte(`{"model": "gpt-4o", "input": "hi", "stream": true}`)
		out, err := d.Prepare(body, true)
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != string(body) {
			t.Errorf("body changed: %s", out)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		body := []byte(`{"messages": [], "stream_options": {"include_usage": true}}`)
		out, err := d.Prepare(body, true)
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != string(body) {
			t.Errorf("body changed: %s", out)
		}
	})
}

func TestForwardAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	d := New("secret", srv.URL, srv.Client(), nil)
	resp, err := d.Forward(context.Background(), provider.ForwardSpec{
		Path:   "/v1/chat/completions",
		Method: http.MethodPost,
		Query:  url.Values{},
		Body:   []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestExtractorStream(t *testing.T) {
	e := extractor{}

	t.Run("terminal chat usage chunk", func(t *testing.T) {
		obs := e.FromStreamEvent("", `{"choices": [], "usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}}`)
		if obs == nil || obs.Usage == nil {
			t.Fatal("expected usage")
		}
		if obs.Usage.TotalTokens != 19 || obs.Done {
			t.Errorf("obs = %+v", obs)
		}
	})

	t.Run("delta chunk without usage", func(t *testing.T) {
		if obs := e.FromStreamEvent("", `{"choices": [{"delta": {"content": "x"}}]}`); obs != nil {
			t.Errorf("obs = %+v", obs)
		}
	})

	t.Run("response.completed by event name", func(t *testing.T) {
		obs := e.FromStreamEvent("response.completed", `{"response": {"usage": {"input_tokens": 4, "output_tokens": 6}}}`)
		if obs == nil || !obs.Done || obs.Usage == nil {
			t.Fatalf("obs = %+v", obs)
		}
		if obs.Usage.PromptTokens != 4 || obs.Usage.CompletionTokens != 6 {
			t.Errorf("usage = %+v", obs.Usage)
		}
	})

	t.Run("response.completed by type field", func(t *testing.T) {
		obs := e.FromStreamEvent("", `{"type": "response.completed", "response": {"usage": {"input_tokens": 4, "output_tokens": 6}}}`)
		if obs == nil || !obs.Done {
			t.Fatalf("obs = %+v", obs)
		}
	})

	t.Run("completed without usage still terminal", func(t *testing.T) {
		obs := e.FromStreamEvent("response.completed", `{"response": {}}`)
		if obs == nil || !obs.Done || obs.Usage != nil {
			t.Fatalf("obs = %+v", obs)
		}
	})
}

func TestExtractorBody(t *testing.T) {
	e := extractor{}
	u := e.FromResponseBody([]byte(`{"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}}`))
	if u == nil || u.TotalTokens != 4 {
		t.Fatalf("usage = %+v", u)
	}
}
