// Package ai wraps the external inference collaborator behind the Generator
// interface the exchange pipeline consumes.
package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/ecpmlab/advisor/backend/internal/config"
	"github.com/ecpmlab/advisor/backend/internal/model/chat"
)

// Generator produces an answer for a question given the rolling history. It
// is an opaque collaborator: callers bound it with a context timeout and treat
// any error as an inference failure.
type Generator interface {
	Generate(ctx context.Context, question string, hist []chat.HistoryEntry) (string, error)
}

// Service is the eino-backed Generator.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *zap.Logger
}

var _ Generator = (*Service)(nil)

// NewService compiles the advisor chat chain against the configured model.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
		logger:    logger,
	}, nil
}

// StreamingEnabled indicates whether token streaming is configured.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Generate runs one inference call and returns the sanitized answer text.
func (s *Service) Generate(ctx context.Context, question string, hist []chat.HistoryEntry) (string, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(question, hist))
	if err != nil {
		return "", fmt.Errorf("run advisor chain: %w", err)
	}

	answer := Sanitize(response.Content)
	s.logger.Debug("generated answer",
		zap.Int("history_entries", len(hist)),
		zap.Int("answer_runes", len(answer)))
	return answer, nil
}

// Stream returns the raw token stream for one inference call. Callers
// sanitize the accumulated content before classification.
func (s *Service) Stream(ctx context.Context, question string, hist []chat.HistoryEntry) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(question, hist))
	if err != nil {
		return nil, fmt.Errorf("stream advisor chain: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(question string, hist []chat.HistoryEntry) map[string]any {
	return map[string]any{
		"system":  advisorSystemPrompt,
		"history": buildHistoryMessages(hist),
		"query":   question,
	}
}

func buildHistoryMessages(hist []chat.HistoryEntry) []*schema.Message {
	if len(hist) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(hist))
	for _, entry := range hist {
		switch entry.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(entry.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(entry.Content, nil))
		}
	}
	return messages
}
