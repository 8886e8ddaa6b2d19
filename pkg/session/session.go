// Package session holds the per-user chat state: which file was uploaded,
// its chunks, the QA handle built over them and the state machine that
// decides what a chat surface may do next.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/barekit/docinsights/pkg/ingest"
	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/barekit/docinsights/pkg/llm"
	"github.com/barekit/docinsights/pkg/memory"
	"github.com/barekit/docinsights/pkg/metrics"
	"github.com/barekit/docinsights/pkg/qa"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrClosed            = errors.New("session closed")
)

// State is a chat session state.
type State int

const (
	AwaitingUpload State = iota
	Indexing
	Ready
)

func (s State) String() string {
	switch s {
	case AwaitingUpload:
		return "awaiting_upload"
	case Indexing:
		return "indexing"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is something that happened to a session.
type Event interface {
	name() string
}

// FileReceived carries the file the user uploaded.
type FileReceived struct {
	Upload ingest.Upload
}

// IndexingComplete carries the index built for the upload.
type IndexingComplete struct {
	Index *Index
}

// IndexingFailed carries the reason indexing stopped.
type IndexingFailed struct {
	Err error
}

// QuestionReceived carries a user question.
type QuestionReceived struct {
	Question string
}

func (FileReceived) name() string     { return "file_received" }
func (IndexingComplete) name() string { return "indexing_complete" }
func (IndexingFailed) name() string   { return "indexing_failed" }
func (QuestionReceived) name() string { return "question_received" }

// Reply is what a chat surface shows after an event.
type Reply struct {
	State    State
	Messages []string
	// Indexed delivers the reply to the indexing outcome. Set for FileReceived.
	Indexed <-chan Reply
	// Answer streams the answer. Set for QuestionReceived.
	Answer *AnswerStream
	// Err is the cause of an IndexingFailed reply.
	Err error
}

// Answerer answers questions over one session's document.
type Answerer interface {
	AskStream(ctx context.Context, question string) (*qa.Stream, error)
}

// Index is everything built from one upload.
type Index struct {
	Chunks []knowledge.Chunk
	QA     Answerer
	// Close releases stores built for the upload. May be nil.
	Close func(ctx context.Context) error
}

// Indexer builds an Index from an upload.
type Indexer interface {
	Index(ctx context.Context, sessionID string, u ingest.Upload) (*Index, error)
}

// Session is the explicit context object handed to every chat handler.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	state      State
	uploadName string
	index      *Index
	lastActive time.Time
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc

	indexer Indexer
	memory  memory.Memory
	metrics *metrics.Metrics
	now     func() time.Time
}

func newSession(id string, indexer Indexer, mem memory.Memory, m *metrics.Metrics, now func() time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	t := now()
	return &Session{
		ID:         id,
		CreatedAt:  t,
		state:      AwaitingUpload,
		lastActive: t,
		ctx:        ctx,
		cancel:     cancel,
		indexer:    indexer,
		memory:     mem,
		metrics:    m,
		now:        now,
	}
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Upload     string    `json:"upload,omitempty"`
	Chunks     int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:         s.ID,
		State:      s.state.String(),
		Upload:     s.uploadName,
		CreatedAt:  s.CreatedAt,
		LastActive: s.lastActive,
	}
	if s.index != nil {
		snap.Chunks = len(s.index.Chunks)
	}
	return snap
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Chunks returns the session's ingested chunks in id order.
func (s *Session) Chunks() []knowledge.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	return s.index.Chunks
}

// History returns the session transcript.
func (s *Session) History(ctx context.Context) ([]llm.Message, error) {
	if s.memory == nil {
		return nil, nil
	}
	return s.memory.Load(ctx, s.ID)
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Dispatch applies ev to the session. Pairs the state machine does not allow
// return ErrInvalidTransition and leave the state unchanged:
//
//	AwaitingUpload --FileReceived--> Indexing
//	Indexing --IndexingComplete--> Ready
//	Indexing --IndexingFailed--> AwaitingUpload
//	Ready --QuestionReceived--> Ready
func (s *Session) Dispatch(ctx context.Context, ev Event) (Reply, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Reply{}, ErrClosed
	}
	s.lastActive = s.now()

	switch e := ev.(type) {
	case FileReceived:
		if s.state != AwaitingUpload {
			break
		}
		s.state = Indexing
		s.uploadName = e.Upload.Name
		s.mu.Unlock()
		return s.startIndexing(e.Upload), nil

	case IndexingComplete:
		if s.state != Indexing {
			break
		}
		s.state = Ready
		s.index = e.Index
		name := s.uploadName
		s.mu.Unlock()
		return Reply{State: Ready, Messages: []string{processedMessage(name)}}, nil

	case IndexingFailed:
		if s.state != Indexing {
			break
		}
		s.state = AwaitingUpload
		name := s.uploadName
		s.uploadName = ""
		s.mu.Unlock()
		return Reply{State: AwaitingUpload, Messages: []string{failedMessage(name, e.Err), Welcome}, Err: e.Err}, nil

	case QuestionReceived:
		if s.state != Ready {
			break
		}
		idx := s.index
		s.mu.Unlock()
		return s.ask(ctx, idx, e.Question)
	}

	state := s.state
	s.mu.Unlock()
	return Reply{State: state}, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev.name(), state)
}

// startIndexing runs the indexer on the session context and feeds its
// outcome back through Dispatch.
func (s *Session) startIndexing(u ingest.Upload) Reply {
	out := make(chan Reply, 1)
	go func() {
		defer close(out)
		start := time.Now()
		idx, err := s.indexer.Index(s.ctx, s.ID, u)
		if s.metrics != nil {
			s.metrics.IndexingSeconds.Observe(time.Since(start).Seconds())
		}

		var ev Event = IndexingComplete{Index: idx}
		if err != nil {
			slog.Warn("indexing failed", "session_id", s.ID, "file", u.Name, "error", err)
			ev = IndexingFailed{Err: err}
		} else {
			if s.metrics != nil {
				s.metrics.IndexedChunks.Add(float64(len(idx.Chunks)))
			}
			slog.Info("indexing complete", "session_id", s.ID, "file", u.Name, "chunks", len(idx.Chunks))
		}

		reply, derr := s.Dispatch(s.ctx, ev)
		if derr != nil {
			// The session moved on (closed) while indexing ran.
			if idx != nil && idx.Close != nil {
				_ = idx.Close(context.Background())
			}
			reply = Reply{State: s.State(), Err: derr}
		}
		out <- reply
	}()

	return Reply{State: Indexing, Messages: []string{processingMessage(u.Name)}, Indexed: out}
}

func (s *Session) ask(ctx context.Context, idx *Index, question string) (Reply, error) {
	if s.memory != nil {
		msg := llm.Message{Role: llm.RoleUser, Content: question, CreatedAt: s.now()}
		if err := s.memory.Save(ctx, s.ID, msg); err != nil {
			return Reply{State: Ready}, fmt.Errorf("failed to save user message: %w", err)
		}
	}

	stream, err := idx.QA.AskStream(ctx, question)
	if err != nil {
		if s.metrics != nil {
			s.metrics.Questions.WithLabelValues("error").Inc()
		}
		return Reply{State: Ready}, err
	}
	return Reply{State: Ready, Answer: newAnswerStream(s, idx.Chunks, stream)}, nil
}

// Close stops any indexing in flight and releases the session's stores.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	idx := s.index
	s.index = nil
	s.mu.Unlock()

	s.cancel()
	if idx != nil && idx.Close != nil {
		if err := idx.Close(ctx); err != nil {
			return fmt.Errorf("failed to release index: %w", err)
		}
	}
	return nil
}
