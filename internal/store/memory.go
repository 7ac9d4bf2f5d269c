package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a simple in-process store for local/dev use and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	flashcards    map[string]Flashcard
	reviews       map[string][]CardReview // key: userID
	conversations map[string]ConversationState
	mutes         map[string]map[string]bool // userID -> deckID -> enabled
	users         map[string]User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flashcards:    make(map[string]Flashcard),
		reviews:       make(map[string][]CardReview),
		conversations: make(map[string]ConversationState),
		mutes:         make(map[string]map[string]bool),
		users:         make(map[string]User),
	}
}

func (s *MemoryStore) CreateFlashcard(_ context.Context, card Flashcard) (Flashcard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	s.flashcards[card.ID] = card
	return card, nil
}

func (s *MemoryStore) GetFlashcard(_ context.Context, id string) (Flashcard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.flashcards[id]
	if !ok {
		return Flashcard{}, ErrNotFound
	}
	return card, nil
}

func (s *MemoryStore) ListFlashcardsByOwner(_ context.Context, ownerID string) ([]Flashcard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Flashcard, 0, 8)
	for _, card := range s.flashcards {
		if card.OwnerID == ownerID {
			out = append(out, card)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) AppendReview(_ context.Context, review CardReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}
	s.reviews[review.UserID] = append(s.reviews[review.UserID], review)
	return nil
}

func (s *MemoryStore) LatestReview(_ context.Context, userID, flashcardID string) (CardReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.reviews[userID]
	for i := len(arr) - 1; i >= 0; i-- {
		if arr[i].FlashcardID == flashcardID {
			return arr[i], nil
		}
	}
	return CardReview{}, ErrNotFound
}

func (s *MemoryStore) LatestReviewsByUser(_ context.Context, userID string) (map[string]CardReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]CardReview)
	for _, r := range s.reviews[userID] {
		prev, ok := out[r.FlashcardID]
		if !ok || r.CreatedAt.After(prev.CreatedAt) {
			out[r.FlashcardID] = r
		}
	}
	return out, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, userID string) (ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.conversations[userID]
	if !ok {
		return ConversationState{}, ErrNotFound
	}
	return state, nil
}

func (s *MemoryStore) PutConversation(_ context.Context, state ConversationState, expectedVersion int64) (ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.conversations[state.UserID]
	if expectedVersion == 0 {
		if exists {
			return ConversationState{}, ErrVersionConflict
		}
	} else if !exists || current.Version != expectedVersion {
		return ConversationState{}, ErrVersionConflict
	}
	state.Version = expectedVersion + 1
	if state.LastActivityAt.IsZero() {
		state.LastActivityAt = time.Now().UTC()
	}
	s.conversations[state.UserID] = state
	return state, nil
}

func (s *MemoryStore) ListStaleAwaiting(_ context.Context, olderThan time.Time) ([]ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ConversationState
	for _, state := range s.conversations {
		if state.State == StateAwaitingAnswer && state.LastActivityAt.Before(olderThan) {
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) UnmutedDeckIDs(_ context.Context, userID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool)
	for deckID, enabled := range s.mutes[userID] {
		if enabled {
			out[deckID] = true
		}
	}
	return out, nil
}

// SetDeckMute is used by tests and the dev console to toggle channel
// opt-in for a deck.
func (s *MemoryStore) SetDeckMute(userID, deckID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mutes[userID]; !ok {
		s.mutes[userID] = make(map[string]bool)
	}
	s.mutes[userID][deckID] = enabled
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return NormalizeUser(u), nil
}

func (s *MemoryStore) GetUserByPhone(_ context.Context, phone string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Phone == phone {
			return NormalizeUser(u), nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) ListOptedInUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		if u.OptedIn {
			out = append(out, NormalizeUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) Close() error { return nil }
