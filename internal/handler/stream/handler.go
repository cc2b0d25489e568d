package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/ecpmlab/advisor/backend/internal/model/chat"
	"github.com/ecpmlab/advisor/backend/internal/service/ai"
	exchangeService "github.com/ecpmlab/advisor/backend/internal/service/exchange"
	"github.com/ecpmlab/advisor/backend/pkg/utils"
)

// Streamer produces a token stream for one inference call.
type Streamer interface {
	Stream(ctx context.Context, question string, hist []chat.HistoryEntry) (*schema.StreamReader[*schema.Message], error)
}

// Handler streams exchange answers over Server-Sent Events while running the
// same admission, classification and commit pipeline as the JSON endpoint.
type Handler struct {
	streamer     Streamer
	orchestrator *exchangeService.Orchestrator
	timeout      time.Duration
	logger       *zap.Logger
}

// Frame is one SSE payload.
type Frame struct {
	Event      string `json:"event"`
	SessionID  string `json:"sessionId,omitempty"`
	Content    string `json:"content,omitempty"`
	UsageCount int    `json:"usageCount,omitempty"`
	Remaining  int    `json:"remaining,omitempty"`
	Billable   bool   `json:"billable,omitempty"`
	Finished   bool   `json:"finished,omitempty"`
	Error      string `json:"error,omitempty"`
}

// New creates the stream handler.
func New(streamer Streamer, orchestrator *exchangeService.Orchestrator, timeout time.Duration, logger *zap.Logger) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{streamer: streamer, orchestrator: orchestrator, timeout: timeout, logger: logger}
}

// HandleStreamRequest runs one streamed exchange for the session.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, userMessage, accountID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	session, decision, err := h.orchestrator.Admit(ctx, sessionID, accountID)
	if err != nil {
		h.sendError(w, flusher, "session unavailable")
		return err
	}

	if !decision.Admitted {
		utils.SendSSEChunk(w, flusher, Frame{
			Event:      "denied",
			SessionID:  sessionID,
			UsageCount: decision.UsageCount,
			Remaining:  0,
			Finished:   true,
			Error:      "Question limit reached. Please sign up to continue.",
		})
		return nil
	}

	utils.SendSSEChunk(w, flusher, Frame{Event: "start", SessionID: sessionID})

	answer, err := h.relayStream(ctx, w, flusher, sessionID, userMessage, session.History)
	if err != nil {
		// A failed stream is an inference failure: nothing is committed.
		h.logger.Error("stream failed", zap.String("session", sessionID), zap.Error(err))
		h.sendError(w, flusher, "generation failed, your quota was not charged")
		return err
	}

	result, err := h.orchestrator.Commit(ctx, session, userMessage, answer)
	if err != nil {
		h.sendError(w, flusher, "could not record the exchange")
		return err
	}

	utils.SendSSEChunk(w, flusher, Frame{
		Event:      "quota",
		SessionID:  sessionID,
		UsageCount: result.UsageCount,
		Remaining:  result.Remaining,
		Billable:   result.Billable,
	})
	utils.SendSSEChunk(w, flusher, Frame{Event: "end", SessionID: sessionID, Finished: true})

	h.logger.Info("stream completed",
		zap.String("session", sessionID), zap.Bool("billable", result.Billable))
	return nil
}

// relayStream forwards token deltas to the client and returns the sanitized
// full answer.
func (h *Handler) relayStream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID, userMessage string, hist []chat.HistoryEntry) (string, error) {
	streamCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	stream, err := h.streamer.Stream(streamCtx, userMessage, hist)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			utils.SendSSEChunk(w, flusher, Frame{
				Event:     "delta",
				SessionID: sessionID,
				Content:   chunk.Content,
			})
		}
	}

	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}
	return ai.Sanitize(full.Content), nil
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher, message string) {
	utils.SendSSEChunk(w, flusher, Frame{Event: "error", Error: message, Finished: true})
}
