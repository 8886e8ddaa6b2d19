package qa

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/barekit/docinsights/pkg/llm"
)

type mockProvider struct {
	response string
	deltas   []string
	err      error
	streamFn func(ctx context.Context, out chan<- llm.Delta)
	seen     []llm.Message
}

func (m *mockProvider) Chat(ctx context.Context, messages []llm.Message) (*llm.Message, error) {
	m.seen = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Message{Role: llm.RoleAssistant, Content: m.response}, nil
}

func (m *mockProvider) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	m.seen = messages
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		if m.streamFn != nil {
			m.streamFn(ctx, ch)
			return
		}
		for _, d := range m.deltas {
			ch <- llm.Delta{Content: d}
		}
	}()
	return ch, nil
}

type staticRetriever struct {
	chunks []knowledge.Chunk
	limit  int
}

func (r *staticRetriever) Retrieve(ctx context.Context, query string, limit int) ([]knowledge.Chunk, error) {
	r.limit = limit
	if limit < len(r.chunks) {
		return r.chunks[:limit], nil
	}
	return r.chunks, nil
}

func chunks() []knowledge.Chunk {
	return []knowledge.Chunk{
		{ID: "source_0", Text: "Finance addresses the management of money."},
		{ID: "source_1", Text: "Public finance includes tax systems and government expenditures."},
	}
}

func TestChainAsk(t *testing.T) {
	mock := &mockProvider{response: "Public finance covers taxes and spending.\nSOURCES: source_1"}
	r := &staticRetriever{chunks: chunks()}
	c := New(mock, r)

	res, err := c.Ask(context.Background(), "What is public finance")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if res.Answer != "Public finance covers taxes and spending." {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if res.Sources != "source_1" {
		t.Errorf("unexpected sources %q", res.Sources)
	}
	if r.limit != DefaultTopK {
		t.Errorf("expected top-k %d, got %d", DefaultTopK, r.limit)
	}

	prompt := mock.seen[len(mock.seen)-1].Content
	if !strings.Contains(prompt, "Content: Finance addresses the management of money.\nSource: source_0") {
		t.Errorf("prompt missing rendered part:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "FINAL ANSWER:") {
		t.Errorf("prompt should end with the answer prefix:\n%s", prompt)
	}
}

func TestChainAskLLMError(t *testing.T) {
	boom := errors.New("boom")
	c := New(&mockProvider{err: boom}, &staticRetriever{chunks: chunks()})
	if _, err := c.Ask(context.Background(), "q"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped LLM error, got %v", err)
	}
}

func TestParseCompletion(t *testing.T) {
	cases := []struct {
		in, answer, sources string
	}{
		{"A.\nSOURCES: source_0, source_1.", "A.", "source_0, source_1."},
		{"FINAL ANSWER: A.\nSource: source_3\nextra", "A.", "source_3"},
		{"A without sources", "A without sources", ""},
		{"A.\nsources:", "A.", ""},
		{"A. SOURCES: source_2\nQUESTION: next", "A.", "source_2"},
	}
	for _, tc := range cases {
		a, s := parseCompletion(tc.in)
		if a != tc.answer || s != tc.sources {
			t.Errorf("parseCompletion(%q) = (%q, %q), want (%q, %q)", tc.in, a, s, tc.answer, tc.sources)
		}
	}
}

func TestFitContext(t *testing.T) {
	cs := []knowledge.Chunk{
		{ID: "a", Text: strings.Repeat("x", 40)}, // 10 tokens
		{ID: "b", Text: strings.Repeat("x", 40)},
		{ID: "c", Text: strings.Repeat("x", 41)}, // 11 tokens
	}
	if got := fitContext(cs, 31); len(got) != 3 {
		t.Errorf("expected all chunks to fit, got %d", len(got))
	}
	if got := fitContext(cs, 25); len(got) != 2 || got[1].ID != "b" {
		t.Errorf("expected trailing chunk dropped, got %v", got)
	}
	if got := fitContext(cs, 5); len(got) != 0 {
		t.Errorf("expected no chunks, got %d", len(got))
	}
	if got := fitContext(cs, 0); len(got) != 3 {
		t.Errorf("zero limit should disable the check")
	}
}

func collect(t *testing.T, s *Stream) string {
	t.Helper()
	var sb strings.Builder
	for tok := range s.Tokens {
		sb.WriteString(tok)
	}
	return sb.String()
}

func TestChainAskStreamWithholdsSources(t *testing.T) {
	mock := &mockProvider{deltas: []string{"FINAL ", "ANSWER: Public ", "finance is government money.", "\nSOUR", "CES: source_1", "."}}
	c := New(mock, &staticRetriever{chunks: chunks()})

	s, err := c.AskStream(context.Background(), "What is public finance")
	if err != nil {
		t.Fatalf("AskStream failed: %v", err)
	}
	streamed := collect(t, s)
	if strings.Contains(strings.ToUpper(streamed), "SOUR") || strings.Contains(streamed, "FINAL") {
		t.Errorf("stream leaked prefix or sources: %q", streamed)
	}
	if strings.TrimSpace(streamed) != "Public finance is government money." {
		t.Errorf("unexpected streamed text %q", streamed)
	}

	res, err := s.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Answer != "Public finance is government money." || res.Sources != "source_1." {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestChainAskStreamNoMarker(t *testing.T) {
	mock := &mockProvider{deltas: []string{"I don't know", " the answer. So"}}
	c := New(mock, &staticRetriever{chunks: chunks()})

	s, err := c.AskStream(context.Background(), "q")
	if err != nil {
		t.Fatalf("AskStream failed: %v", err)
	}
	if got := collect(t, s); got != "I don't know the answer. So" {
		t.Errorf("held-back text not flushed: %q", got)
	}
	res, _ := s.Wait()
	if res.Sources != "" {
		t.Errorf("expected empty sources, got %q", res.Sources)
	}
}

func TestChainAskStreamCancel(t *testing.T) {
	mock := &mockProvider{streamFn: func(ctx context.Context, out chan<- llm.Delta) {
		for {
			select {
			case out <- llm.Delta{Content: "tok "}:
			case <-ctx.Done():
				return
			}
		}
	}}
	c := New(mock, &staticRetriever{chunks: chunks()})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.AskStream(ctx, "q")
	if err != nil {
		t.Fatalf("AskStream failed: %v", err)
	}
	<-s.Tokens
	cancel()

	done := make(chan struct{})
	go func() {
		for range s.Tokens {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("token channel not closed after cancel")
	}
	if _, err := s.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestChainAskStreamProviderError(t *testing.T) {
	boom := errors.New("stream broke")
	mock := &mockProvider{streamFn: func(ctx context.Context, out chan<- llm.Delta) {
		out <- llm.Delta{Content: "partial"}
		out <- llm.Delta{Err: boom}
	}}
	c := New(mock, &staticRetriever{chunks: chunks()})

	s, err := c.AskStream(context.Background(), "q")
	if err != nil {
		t.Fatalf("AskStream failed: %v", err)
	}
	collect(t, s)
	if _, err := s.Wait(); !errors.Is(err, boom) {
		t.Errorf("expected stream error, got %v", err)
	}
}

func TestAnswerFilterSplitMarker(t *testing.T) {
	var f answerFilter
	var out strings.Builder
	for _, d := range []string{"Answer s", "o far. S", "ource", ": source_0"} {
		out.WriteString(f.Push(d))
	}
	out.WriteString(f.Flush())
	if out.String() != "Answer so far. " {
		t.Errorf("unexpected filtered text %q", out.String())
	}
}

func TestAnswerFilterKeepsTextAfterMarker(t *testing.T) {
	var f answerFilter
	var out strings.Builder
	for _, d := range []string{"Public finance is money.", "\nSOURCES:", " source_0", ", source_1"} {
		out.WriteString(f.Push(d))
	}
	out.WriteString(f.Flush())
	if out.String() != "Public finance is money.\n" {
		t.Errorf("unexpected filtered text %q", out.String())
	}
	if got := f.Text(); got != "Public finance is money.\nSOURCES: source_0, source_1" {
		t.Errorf("completion lost deltas after the marker: %q", got)
	}
}

func TestChainAskStreamSourcesInLaterDeltas(t *testing.T) {
	mock := &mockProvider{deltas: []string{"Public finance is money.", "\nSOURCES:", " source_0", ", source_1"}}
	c := New(mock, &staticRetriever{chunks: chunks()})

	s, err := c.AskStream(context.Background(), "What is public finance")
	if err != nil {
		t.Fatalf("AskStream failed: %v", err)
	}
	if got := strings.TrimSpace(collect(t, s)); got != "Public finance is money." {
		t.Errorf("unexpected streamed text %q", got)
	}
	res, err := s.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Answer != "Public finance is money." || res.Sources != "source_0, source_1" {
		t.Errorf("unexpected result %+v", res)
	}
}
