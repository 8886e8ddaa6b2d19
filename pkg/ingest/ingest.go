// Package ingest turns an uploaded text or PDF file into ordered, uniquely
// identified chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/barekit/docinsights/pkg/knowledge"
)

const (
	MIMETextPlain = "text/plain"
	MIMEPDF       = "application/pdf"

	DefaultMaxBytes     = 20 << 20
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrEmptyDocument   = errors.New("no text could be extracted")
)

// Upload is a file received from a chat surface.
type Upload struct {
	Name     string
	MIMEType string
	Data     []byte
}

// ChunkID returns the identifier of the i-th chunk of an upload.
func ChunkID(i int) string {
	return "source_" + strconv.Itoa(i)
}

// Ingester validates uploads, loads their text and splits it into chunks.
type Ingester struct {
	accepted map[string]bool
	maxBytes int64
	splitter *Splitter
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithMaxBytes sets the upload size limit.
func WithMaxBytes(n int64) Option {
	return func(i *Ingester) {
		if n > 0 {
			i.maxBytes = n
		}
	}
}

// WithChunking sets splitter chunk size and overlap, in characters.
func WithChunking(size, overlap int) Option {
	return func(i *Ingester) {
		if size > 0 {
			i.splitter = NewSplitter(size, overlap)
		}
	}
}

// WithAcceptedTypes restricts the MIME types accepted. Types other than
// text/plain and application/pdf have no loader and are ignored.
func WithAcceptedTypes(types ...string) Option {
	return func(i *Ingester) {
		i.accepted = make(map[string]bool, len(types))
		for _, t := range types {
			if t == MIMETextPlain || t == MIMEPDF {
				i.accepted[t] = true
			}
		}
	}
}

// New creates an Ingester with the default limits.
func New(opts ...Option) *Ingester {
	i := &Ingester{
		accepted: map[string]bool{MIMETextPlain: true, MIMEPDF: true},
		maxBytes: DefaultMaxBytes,
		splitter: NewSplitter(DefaultChunkSize, DefaultChunkOverlap),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// MaxBytes returns the configured size limit.
func (i *Ingester) MaxBytes() int64 { return i.maxBytes }

// AcceptedTypes lists the accepted MIME types.
func (i *Ingester) AcceptedTypes() []string {
	var out []string
	for _, t := range []string{MIMETextPlain, MIMEPDF} {
		if i.accepted[t] {
			out = append(out, t)
		}
	}
	return out
}

// Ingest loads and splits u. Chunk i gets the id "source_<i>" in document
// order, across pages.
func (i *Ingester) Ingest(ctx context.Context, u Upload) ([]knowledge.Chunk, error) {
	mediaType, err := i.validate(u)
	if err != nil {
		return nil, err
	}

	var pages []Page
	switch mediaType {
	case MIMEPDF:
		pages, err = loadPDF(u.Data)
		if err != nil {
			return nil, err
		}
	default:
		pages = loadText(u.Data)
	}

	var chunks []knowledge.Chunk
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, text := range i.splitter.Split(p.Text) {
			id := ChunkID(len(chunks))
			meta := map[string]string{"source": id, "file": u.Name}
			if mediaType == MIMEPDF {
				meta["page"] = strconv.Itoa(p.Number)
			}
			chunks = append(chunks, knowledge.Chunk{
				ID:       id,
				Text:     text,
				Source:   u.Name,
				Metadata: meta,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	slog.Debug("document split", "file", u.Name, "type", mediaType, "pages", len(pages), "chunks", len(chunks))
	return chunks, nil
}

func (i *Ingester) validate(u Upload) (string, error) {
	mediaType, _, err := mime.ParseMediaType(u.MIMEType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, u.MIMEType)
	}
	if !i.accepted[mediaType] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}
	if int64(len(u.Data)) > i.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(u.Data), i.maxBytes)
	}
	return mediaType, nil
}

// FromFile reads path into an Upload, detecting its MIME type from the
// extension first and the content second.
func FromFile(path string, maxBytes int64) (Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Upload{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return Upload{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, info.Size(), maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Upload{}, fmt.Errorf("failed to read file: %w", err)
	}
	return Upload{
		Name:     filepath.Base(path),
		MIMEType: DetectType(filepath.Base(path), data),
		Data:     data,
	}, nil
}

// DetectType guesses the MIME type of a named file.
func DetectType(name string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
