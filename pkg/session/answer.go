package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/barekit/docinsights/pkg/citation"
	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/barekit/docinsights/pkg/llm"
	"github.com/barekit/docinsights/pkg/qa"
)

// Answer is a finished answer with its sources resolved against the
// session's chunks.
type Answer struct {
	// Text is the model answer followed by the "Sources:" or
	// "No sources found" line when the model reported sources.
	Text      string              `json:"answer"`
	Citations []citation.Citation `json:"citations"`
	// Raw is the chain output before resolution.
	Raw qa.Result `json:"-"`
}

// AnswerStream streams answer tokens; Wait returns the resolved answer once
// the stream ends.
type AnswerStream struct {
	Tokens <-chan string

	session *Session
	chunks  []knowledge.Chunk
	stream  *qa.Stream

	once   sync.Once
	answer Answer
	err    error
}

func newAnswerStream(s *Session, chunks []knowledge.Chunk, stream *qa.Stream) *AnswerStream {
	return &AnswerStream{
		Tokens:  stream.Tokens,
		session: s,
		chunks:  chunks,
		stream:  stream,
	}
}

// Wait discards tokens nobody read, blocks until the model is done, then
// resolves citations and records the answer in the transcript. Safe to call
// more than once.
func (a *AnswerStream) Wait() (Answer, error) {
	a.once.Do(a.finish)
	return a.answer, a.err
}

func (a *AnswerStream) finish() {
	s := a.session
	for range a.Tokens {
	}
	res, err := a.stream.Wait()
	if err != nil {
		a.err = err
		if s.metrics != nil {
			s.metrics.Questions.WithLabelValues("error").Inc()
		}
		return
	}

	resolution := citation.Resolve(res.Answer, res.Sources, a.chunks)
	a.answer = Answer{Text: resolution.Answer, Citations: resolution.Citations, Raw: res}
	if a.answer.Citations == nil {
		a.answer.Citations = []citation.Citation{}
	}

	if s.metrics != nil {
		s.metrics.Questions.WithLabelValues("answered").Inc()
		s.metrics.CitationsResolved.Add(float64(len(resolution.Citations)))
		s.metrics.CitationsDropped.Add(float64(len(resolution.Unmatched)))
	}
	if len(resolution.Unmatched) > 0 {
		slog.Debug("dropped unmatched citations", "session_id", s.ID, "tokens", resolution.Unmatched)
	}

	if s.memory != nil {
		msg := llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resolution.Answer,
			Citations: resolution.IDs(),
			CreatedAt: s.now(),
		}
		if err := s.memory.Save(context.Background(), s.ID, msg); err != nil {
			slog.Error("failed to save assistant message", "session_id", s.ID, "error", err)
		}
	}
}
