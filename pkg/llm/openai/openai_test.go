package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/barekit/docinsights/pkg/llm"
	"github.com/joho/godotenv"
	"github.com/openai/openai-go/option"
)

func TestProviderChatAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":0,"model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p := New(option.WithAPIKey("test"), option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	msg, err := p.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if msg.Content != "ok" {
		t.Errorf("Expected 'ok', got '%s'", msg.Content)
	}
}

func TestProviderStreamAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"a", "b", "c"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":0,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := New(option.WithAPIKey("test"), option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	ch, err := p.Stream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	var sb strings.Builder
	for d := range ch {
		if d.Err != nil {
			t.Fatalf("stream error: %v", d.Err)
		}
		sb.WriteString(d.Content)
	}
	if sb.String() != "abc" {
		t.Errorf("Expected 'abc', got '%s'", sb.String())
	}
}

func TestUnknownRole(t *testing.T) {
	p := New(option.WithAPIKey("test"))
	if _, err := p.Chat(context.Background(), []llm.Message{{Role: "tool", Content: "x"}}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestProvider_OpenAI_Integration(t *testing.T) {
	_ = godotenv.Load("../../../.env")
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping OpenAI integration test: OPENAI_API_KEY not set")
	}

	p := New(option.WithAPIKey(apiKey))
	msg, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "What is 2+2? Reply with just the number."}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !strings.Contains(msg.Content, "4") {
		t.Logf("Expected '4', got '%s'", msg.Content)
	}
}
