// Package assistant bridges the diary app to a writing-assistant chat model.
//
// The assistant holds no group or entry state: each exchange loads the
// caller's chat session, sends a bounded window of it to the model, and
// persists the updated transcript. Model failures degrade to canned replies
// rather than surfacing errors.
package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"roundbook/api/internal/store"
	"roundbook/api/internal/util"
)

const (
	// windowSize bounds how much transcript is sent to the model per turn.
	windowSize = 10

	completeTimeout = 20 * time.Second
)

const persona = "You are a gentle writing companion inside a shared exchange diary app. " +
	"Members take turns writing entries in a small group journal. Help the current " +
	"writer find something worth writing about: suggest prompts, help them unstick a " +
	"draft, or reflect on what they share. Keep replies short and warm. Never invent " +
	"details about other members or past entries you haven't been shown."

// ChatStore persists chat sessions.
type ChatStore interface {
	GetChatSession(ctx context.Context, userID, groupID string) (store.ChatSession, error)
	UpsertChatSession(ctx context.Context, session store.ChatSession) error
}

// Service is the assistant chat service.
type Service struct {
	store     ChatStore
	completer Completer
	now       func() time.Time
}

// NewService creates an assistant service. completer may be nil when no API
// key is configured; every chat then gets a fallback reply.
func NewService(chatStore ChatStore, completer Completer) *Service {
	return &Service{
		store:     chatStore,
		completer: completer,
		now:       time.Now,
	}
}

// ChatResult is one assistant reply.
type ChatResult struct {
	Reply     string    `json:"reply"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat appends the user's message to their session, asks the model for a
// reply, and persists the whole transcript. It never returns a model error:
// any failure on the model path yields a canned reply instead. Only a storage
// failure on the initial session load is surfaced.
func (s *Service) Chat(ctx context.Context, userID, groupID, message, contextNote string) (ChatResult, error) {
	if message == "" {
		return ChatResult{}, fmt.Errorf("empty message")
	}

	session, err := s.loadOrInitSession(ctx, userID, groupID)
	if err != nil {
		return ChatResult{}, err
	}
	if contextNote != "" {
		session.Context = contextNote
	}

	now := s.now()
	session.Messages = append(session.Messages, store.ChatMessage{
		Role:      store.ChatRoleUser,
		Content:   message,
		Timestamp: now,
	})

	reply := s.complete(ctx, session)

	replyAt := s.now()
	session.Messages = append(session.Messages, store.ChatMessage{
		Role:      store.ChatRoleAssistant,
		Content:   reply,
		Timestamp: replyAt,
	})
	session.UpdatedAt = replyAt

	if err := s.store.UpsertChatSession(ctx, session); err != nil {
		log.Printf("assistant: persist session for user %s: %v", userID, err)
	}

	return ChatResult{Reply: reply, Timestamp: replyAt}, nil
}

// Session returns the caller's chat session, or an empty one if none exists.
func (s *Service) Session(ctx context.Context, userID, groupID string) (store.ChatSession, error) {
	return s.loadOrInitSession(ctx, userID, groupID)
}

func (s *Service) loadOrInitSession(ctx context.Context, userID, groupID string) (store.ChatSession, error) {
	session, err := s.store.GetChatSession(ctx, userID, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ChatSession{
			ID:      util.NewID("chat"),
			UserID:  userID,
			GroupID: groupID,
		}, nil
	}
	if err != nil {
		return store.ChatSession{}, fmt.Errorf("load chat session: %w", err)
	}
	return session, nil
}

func (s *Service) complete(ctx context.Context, session store.ChatSession) string {
	if s.completer == nil {
		return fallbackReply()
	}

	window := session.Messages
	if len(window) > windowSize {
		window = window[len(window)-windowSize:]
	}

	system := persona
	if session.Context != "" {
		system += "\n\nThe writer shared this context: " + session.Context
	}

	cctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()

	reply, err := s.completer.Complete(cctx, system, window)
	if err != nil {
		log.Printf("assistant: model call failed, serving fallback: %v", err)
		return fallbackReply()
	}
	return reply
}
