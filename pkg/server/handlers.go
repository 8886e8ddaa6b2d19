package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/barekit/docinsights/pkg/citation"
	"github.com/barekit/docinsights/pkg/ingest"
	"github.com/barekit/docinsights/pkg/llm"
	"github.com/barekit/docinsights/pkg/session"
	"github.com/gofiber/fiber/v2"
)

type sessionResponse struct {
	session.Snapshot
	Messages []string `json:"messages,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type messageRequest struct {
	Content string `json:"content"`
	Stream  bool   `json:"stream"`
}

type answerResponse struct {
	Answer    string              `json:"answer"`
	Citations []citation.Citation `json:"citations"`
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) startSession(c *fiber.Ctx) error {
	sess, reply := s.sessions.Start()
	return c.Status(fiber.StatusCreated).JSON(sessionResponse{
		Snapshot: sess.Snapshot(),
		Messages: reply.Messages,
	})
}

func (s *Server) lookup(c *fiber.Ctx) (*session.Session, error) {
	return s.sessions.Get(c.Params("id"))
}

func (s *Server) getSession(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.Snapshot())
}

func (s *Server) endSession(c *fiber.Ctx) error {
	if err := s.sessions.End(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// uploadFile indexes the multipart field "file". It waits for indexing to
// finish unless the query has async=true, in which case it answers 202.
func (s *Server) uploadFile(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "file is required (form field: file)")
	}
	if fh.Size > s.maxUpload {
		return fmt.Errorf("%w: %d bytes exceeds %d", ingest.ErrTooLarge, fh.Size, s.maxUpload)
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}

	mimeType := fh.Header.Get(fiber.HeaderContentType)
	if mimeType == "" || strings.HasPrefix(mimeType, fiber.MIMEOctetStream) {
		mimeType = ingest.DetectType(fh.Filename, data)
	}
	up := ingest.Upload{Name: fh.Filename, MIMEType: mimeType, Data: data}

	reply, err := sess.Dispatch(c.UserContext(), session.FileReceived{Upload: up})
	if err != nil {
		return err
	}
	if c.QueryBool("async") {
		return c.Status(fiber.StatusAccepted).JSON(sessionResponse{
			Snapshot: sess.Snapshot(),
			Messages: reply.Messages,
		})
	}

	done := <-reply.Indexed
	resp := sessionResponse{
		Snapshot: sess.Snapshot(),
		Messages: append(reply.Messages, done.Messages...),
	}
	if done.Err != nil {
		resp.Error = done.Err.Error()
		return c.Status(statusFor(done.Err)).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *Server) postMessage(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	var req messageRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		return fiber.NewError(fiber.StatusBadRequest, `invalid request, expected JSON: {"content":"..."}`)
	}

	if !req.Stream {
		reply, err := sess.Dispatch(c.UserContext(), session.QuestionReceived{Question: req.Content})
		if err != nil {
			return err
		}
		ans, err := reply.Answer.Wait()
		if err != nil {
			return err
		}
		return c.JSON(answerResponse{Answer: ans.Text, Citations: ans.Citations})
	}

	// The stream outlives the handler, so it gets its own context that is
	// cancelled when the client goes away.
	ctx, cancel := context.WithCancel(context.Background())
	reply, err := sess.Dispatch(ctx, session.QuestionReceived{Question: req.Content})
	if err != nil {
		cancel()
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		answer := reply.Answer
		for tok := range answer.Tokens {
			if err := writeEvent(w, "token", tok); err != nil {
				slog.Debug("stream client went away", "session_id", sess.ID, "error", err)
				cancel()
				break
			}
		}
		ans, err := answer.Wait()
		if err != nil {
			_ = writeEvent(w, "error", fiber.Map{"error": err.Error()})
			return
		}
		_ = writeEvent(w, "final", answerResponse{Answer: ans.Text, Citations: ans.Citations})
	})
	return nil
}

// writeEvent writes one server-sent event with a JSON payload.
func writeEvent(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) history(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	msgs, err := sess.History(c.UserContext())
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	if msgs == nil {
		msgs = []llm.Message{}
	}
	return c.JSON(fiber.Map{"id": sess.ID, "messages": msgs})
}
