package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/barekit/docinsights/pkg/ingest"
	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/barekit/docinsights/pkg/knowledge/backend"
	"github.com/barekit/docinsights/pkg/llm"
	"github.com/barekit/docinsights/pkg/memory/inmemory"
	"github.com/barekit/docinsights/pkg/metrics"
	"github.com/barekit/docinsights/pkg/session"
)

const document = "Public finance is the study of the role of the government in the economy. Taxes fund public spending."

type mockProvider struct {
	deltas []string
}

func (m *mockProvider) Chat(ctx context.Context, messages []llm.Message) (*llm.Message, error) {
	return &llm.Message{Role: llm.RoleAssistant, Content: strings.Join(m.deltas, "")}, nil
}

func (m *mockProvider) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		for _, d := range m.deltas {
			select {
			case ch <- llm.Delta{Content: d}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	stores, err := backend.NewStores(backend.StoreConfig{Type: backend.StoreMemory, Hybrid: true})
	if err != nil {
		t.Fatalf("NewStores failed: %v", err)
	}
	pipeline := &session.Pipeline{
		Ingester: ingest.New(),
		Stores:   stores,
		NewEmbedder: func() (knowledge.Embedder, error) {
			return backend.NewEmbedder(backend.EmbedderConfig{Provider: backend.EmbedderTFIDF})
		},
		LLM: &mockProvider{deltas: []string{"Taxes fund", " public spending.", "\nSOURCES: source_0"}},
	}
	m := metrics.New()
	mgr := session.NewManager(pipeline, session.WithMemory(inmemory.New()), session.WithMetrics(m))
	srv := New(mgr, WithMetrics(m))
	t.Cleanup(func() { mgr.Close(context.Background()) })
	return srv
}

func do(t *testing.T, s *Server, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp, body
}

func startSession(t *testing.T, s *Server) string {
	t.Helper()
	resp, body := do(t, s, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var out struct {
		ID       string   `json:"id"`
		State    string   `json:"state"`
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if out.State != "awaiting_upload" || len(out.Messages) != 2 || out.Messages[0] != session.Greeting {
		t.Errorf("unexpected start response %s", body)
	}
	return out.ID
}

func uploadRequest(t *testing.T, id, name, contentType, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + name + `"`}
	h["Content-Type"] = []string{contentType}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/files", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func ask(id, content string, stream bool) *http.Request {
	body, _ := json.Marshal(messageRequest{Content: content, Stream: stream})
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Errorf("unexpected health %d %s", resp.StatusCode, body)
	}
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t)
	resp, _ := do(t, s, httptest.NewRequest(http.MethodGet, "/sessions/nope", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestQuestionBeforeUploadConflicts(t *testing.T) {
	s := newTestServer(t)
	id := startSession(t, s)
	resp, _ := do(t, s, ask(id, "What is public finance?", false))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
}

func TestUnsupportedUpload(t *testing.T) {
	s := newTestServer(t)
	id := startSession(t, s)

	resp, body := do(t, s, uploadRequest(t, id, "chart.png", "image/png", "\x89PNG"))
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"state":"awaiting_upload"`) {
		t.Errorf("expected session back to awaiting_upload: %s", body)
	}
}

func TestEmptyUpload(t *testing.T) {
	s := newTestServer(t)
	id := startSession(t, s)

	resp, body := do(t, s, uploadRequest(t, id, "blank.txt", "text/plain", "   \n  "))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", resp.StatusCode, body)
	}
}

func TestChatFlow(t *testing.T) {
	s := newTestServer(t)
	id := startSession(t, s)

	resp, body := do(t, s, uploadRequest(t, id, "finance.txt", "text/plain", document))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload failed %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "`finance.txt` processed. You can now ask questions!") {
		t.Errorf("missing processed message: %s", body)
	}

	resp, body = do(t, s, ask(id, "What funds public spending?", false))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask failed %d: %s", resp.StatusCode, body)
	}
	var ans answerResponse
	if err := json.Unmarshal(body, &ans); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if ans.Answer != "Taxes fund public spending.\nSources: source_0" {
		t.Errorf("unexpected answer %q", ans.Answer)
	}
	if len(ans.Citations) != 1 || ans.Citations[0].Text != document {
		t.Errorf("unexpected citations %+v", ans.Citations)
	}

	resp, body = do(t, s, ask(id, "What funds public spending?", true))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream failed %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	events := string(body)
	if !strings.Contains(events, "event: token\ndata: \"Taxes fund\"") {
		t.Errorf("missing token event: %s", events)
	}
	if !strings.Contains(events, "event: final") || !strings.Contains(events, `Sources: source_0`) {
		t.Errorf("missing final event: %s", events)
	}
	if strings.Contains(events, "SOURCES") {
		t.Errorf("sources line leaked into stream: %s", events)
	}

	resp, body = do(t, s, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/history", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history failed %d", resp.StatusCode)
	}
	var hist struct {
		Messages []llm.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &hist); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(hist.Messages) != 4 {
		t.Errorf("expected 4 transcript messages, got %d", len(hist.Messages))
	}

	resp, body = do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "docinsights_citations_resolved_total 2") {
		t.Errorf("unexpected metrics: %s", body)
	}

	resp, _ = do(t, s, httptest.NewRequest(http.MethodDelete, "/sessions/"+id, nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		ingest.ErrUnsupportedType:    http.StatusUnsupportedMediaType,
		ingest.ErrTooLarge:           http.StatusRequestEntityTooLarge,
		ingest.ErrEmptyDocument:      http.StatusUnprocessableEntity,
		session.ErrNotFound:          http.StatusNotFound,
		session.ErrInvalidTransition: http.StatusConflict,
		io.ErrUnexpectedEOF:          http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
