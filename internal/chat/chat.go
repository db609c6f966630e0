// Package chat stores AI conversations and runs their completions through
// the AI proxy's checks.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/starford/compendium/internal/aiproxy"
	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
)

const titleLength = 80

// Thread is a chat with its messages in order.
type Thread struct {
	Chat     models.Chat          `json:"chat"`
	Messages []models.ChatMessage `json:"messages"`
}

// Service manages chats.
type Service struct {
	store  *docstore.Store
	proxy  *aiproxy.Proxy
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(store *docstore.Store, proxy *aiproxy.Proxy, logger *slog.Logger) *Service {
	return &Service{store: store, proxy: proxy, logger: logger, now: time.Now}
}

// Create starts a chat with content as the first user message and returns it
// with the assistant's reply.
func (s *Service) Create(ctx context.Context, id *auth.Identity, content string) (*Thread, error) {
	if err := s.proxy.Admit(ctx, id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.InvalidArgument("message is empty")
	}
	now := s.now().UTC()
	chat := models.Chat{
		ID:      uuid.NewString(),
		Owner:   id.UID,
		Title:   title(content),
		Model:   s.proxy.Model(),
		Status:  models.ChatStatusPending,
		Created: now,
		Updated: now,
	}
	msg := s.message(chat.ID, 0, openai.ChatMessageRoleUser, content)
	err := s.store.Batch().
		Set(models.CollectionChats, chat.ID, chat).
		Set(models.CollectionChatMessages, msg.ID, msg).
		Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: create: %w", err)
	}
	thread := &Thread{Chat: chat, Messages: []models.ChatMessage{msg}}
	return s.complete(ctx, thread)
}

// Post appends a user message to a chat and returns the updated thread with
// the assistant's reply.
func (s *Service) Post(ctx context.Context, id *auth.Identity, chatID, content string) (*Thread, error) {
	thread, err := s.appendUser(ctx, id, chatID, content)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, thread)
}

// Retry reruns the completion of a chat whose last reply failed.
func (s *Service) Retry(ctx context.Context, id *auth.Identity, chatID string) (*Thread, error) {
	if err := s.proxy.Admit(ctx, id); err != nil {
		return nil, err
	}
	thread, err := s.load(ctx, id, chatID)
	if err != nil {
		return nil, err
	}
	if thread.Chat.Status != models.ChatStatusFailed {
		return nil, apperr.FailedPrecondition("chat %s has no failed reply to retry", chatID)
	}
	return s.complete(ctx, thread)
}

// Get returns a chat owned by the caller.
func (s *Service) Get(ctx context.Context, id *auth.Identity, chatID string) (*Thread, error) {
	if err := s.proxy.Gate().Authorize(ctx, id); err != nil {
		return nil, err
	}
	return s.load(ctx, id, chatID)
}

// Stream appends a user message and streams the reply, calling onDelta for
// each fragment. The full reply is stored once the stream ends.
func (s *Service) Stream(ctx context.Context, id *auth.Identity, chatID, content string, onDelta func(string) error) (*models.ChatMessage, error) {
	thread, err := s.appendUser(ctx, id, chatID, content)
	if err != nil {
		return nil, err
	}

	req := s.request(thread)
	req.Stream = true
	stream, err := s.proxy.Client().CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, thread, err)
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, s.fail(ctx, thread, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return nil, s.fail(ctx, thread, err)
		}
	}

	msg, err := s.finish(ctx, thread, reply.String())
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) appendUser(ctx context.Context, id *auth.Identity, chatID, content string) (*Thread, error) {
	if err := s.proxy.Admit(ctx, id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.InvalidArgument("message is empty")
	}
	thread, err := s.load(ctx, id, chatID)
	if err != nil {
		return nil, err
	}
	if thread.Chat.Status == models.ChatStatusPending {
		return nil, apperr.FailedPrecondition("chat %s is still waiting for a reply", chatID)
	}

	msg := s.message(chatID, len(thread.Messages), openai.ChatMessageRoleUser, content)
	err = s.store.Batch().
		Set(models.CollectionChatMessages, msg.ID, msg).
		Update(models.CollectionChats, chatID, map[string]any{
			"status":  models.ChatStatusPending,
			"error":   docstore.DeleteField(),
			"updated": msg.Created,
		}).
		Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: append to %s: %w", chatID, err)
	}
	thread.Messages = append(thread.Messages, msg)
	thread.Chat.Status = models.ChatStatusPending
	thread.Chat.Error = ""
	return thread, nil
}

func (s *Service) complete(ctx context.Context, thread *Thread) (*Thread, error) {
	resp, err := s.proxy.Client().CreateChatCompletion(ctx, s.request(thread))
	if err != nil {
		return nil, s.fail(ctx, thread, err)
	}
	if len(resp.Choices) == 0 {
		return nil, s.fail(ctx, thread, errors.New("completion has no choices"))
	}
	msg, err := s.finish(ctx, thread, resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	thread.Messages = append(thread.Messages, *msg)
	thread.Chat.Status = models.ChatStatusComplete
	return thread, nil
}

func (s *Service) finish(ctx context.Context, thread *Thread, content string) (*models.ChatMessage, error) {
	msg := s.message(thread.Chat.ID, len(thread.Messages), openai.ChatMessageRoleAssistant, content)
	err := s.store.Batch().
		Set(models.CollectionChatMessages, msg.ID, msg).
		Update(models.CollectionChats, thread.Chat.ID, map[string]any{
			"status":  models.ChatStatusComplete,
			"updated": msg.Created,
		}).
		Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: store reply for %s: %w", thread.Chat.ID, err)
	}
	return &msg, nil
}

// fail records the failure on the chat and returns the normalized error.
func (s *Service) fail(ctx context.Context, thread *Thread, cause error) error {
	s.logger.Error("chat completion failed",
		slog.String("chat_id", thread.Chat.ID),
		slog.String("error", cause.Error()))
	normalized := aiproxy.NormalizeError(cause)
	err := s.store.Update(context.WithoutCancel(ctx), models.CollectionChats, thread.Chat.ID, map[string]any{
		"status":  models.ChatStatusFailed,
		"error":   cause.Error(),
		"updated": s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("record chat failure", slog.String("chat_id", thread.Chat.ID), slog.String("error", err.Error()))
	}
	thread.Chat.Status = models.ChatStatusFailed
	return normalized
}

func (s *Service) load(ctx context.Context, id *auth.Identity, chatID string) (*Thread, error) {
	chat, err := docstore.GetAs[models.Chat](ctx, s.store, models.CollectionChats, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Owner != id.UID {
		return nil, apperr.PermissionDenied("chat %s belongs to another user", chatID)
	}
	msgs, err := docstore.QueryAs[models.ChatMessage](ctx, s.store, models.CollectionChatMessages,
		docstore.Where("chat", "==", chatID))
	if err != nil {
		return nil, fmt.Errorf("chat: load messages of %s: %w", chatID, err)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Index < msgs[j].Index })
	return &Thread{Chat: *chat, Messages: msgs}, nil
}

func (s *Service) request(thread *Thread) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{Model: thread.Chat.Model}
	if req.Model == "" {
		req.Model = s.proxy.Model()
	}
	for _, m := range thread.Messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return req
}

func (s *Service) message(chatID string, index int, role, content string) models.ChatMessage {
	return models.ChatMessage{
		ID:      uuid.NewString(),
		Chat:    chatID,
		Index:   index,
		Role:    role,
		Content: content,
		Created: s.now().UTC(),
	}
}

func title(content string) string {
	t := strings.Join(strings.Fields(content), " ")
	if r := []rune(t); len(r) > titleLength {
		return string(r[:titleLength-1]) + "…"
	}
	return t
}
