package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports a missing row.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict reports a lost compare-and-swap race on a
	// conversation row. Callers retry with backoff; a transition is
	// never silently dropped.
	ErrVersionConflict = errors.New("conversation version conflict")
)

// Flashcards reads the card catalog and accepts draft-confirmed cards.
type Flashcards interface {
	CreateFlashcard(ctx context.Context, card Flashcard) (Flashcard, error)
	GetFlashcard(ctx context.Context, id string) (Flashcard, error)
	ListFlashcardsByOwner(ctx context.Context, ownerID string) ([]Flashcard, error)
}

// Reviews is the append-only grading ledger. Rows are never updated.
type Reviews interface {
	AppendReview(ctx context.Context, review CardReview) error
	LatestReview(ctx context.Context, userID, flashcardID string) (CardReview, error)
	LatestReviewsByUser(ctx context.Context, userID string) (map[string]CardReview, error)
}

// Conversations is the keyed conversation-state store. Put enforces
// compare-and-swap: expectedVersion 0 inserts, any other value must
// match the stored row or ErrVersionConflict is returned.
type Conversations interface {
	GetConversation(ctx context.Context, userID string) (ConversationState, error)
	PutConversation(ctx context.Context, state ConversationState, expectedVersion int64) (ConversationState, error)
	ListStaleAwaiting(ctx context.Context, olderThan time.Time) ([]ConversationState, error)
}

// MuteSettings reads per-(user, deck) channel opt-ins.
type MuteSettings interface {
	UnmutedDeckIDs(ctx context.Context, userID string) (map[string]bool, error)
}

// Users is the read model for dispatch targeting.
type Users interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByPhone(ctx context.Context, phone string) (User, error)
	ListOptedInUsers(ctx context.Context) ([]User, error)
	UpsertUser(ctx context.Context, u User) error
}

// Store aggregates every persistence concern of the quiz core.
type Store interface {
	Flashcards
	Reviews
	Conversations
	MuteSettings
	Users
	Close() error
}
