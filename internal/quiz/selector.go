// Package quiz implements the conversation core: due-card selection,
// the per-user session state machine, the timed batch dispatcher, and
// the stale-session reaper.
package quiz

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/store"
)

// Selector picks the next due card for a user. A card is due when its
// latest review carries no future next-review time; never-reviewed
// cards are always due. Cards in muted decks are excluded, cards with
// no deck never are.
type Selector struct {
	store store.Store
	now   func() time.Time
}

func NewSelector(s store.Store) *Selector {
	return &Selector{store: s, now: time.Now}
}

// NextDue returns one eligible card, or ok=false when the user is
// caught up. Repeated calls with no intervening review return the same
// card: candidates are ordered by creation time, then ID.
func (s *Selector) NextDue(ctx context.Context, userID string) (store.Flashcard, bool, error) {
	cards, err := s.store.ListFlashcardsByOwner(ctx, userID)
	if err != nil {
		return store.Flashcard{}, false, fmt.Errorf("list cards: %w", err)
	}
	if len(cards) == 0 {
		return store.Flashcard{}, false, nil
	}

	unmuted, err := s.store.UnmutedDeckIDs(ctx, userID)
	if err != nil {
		return store.Flashcard{}, false, fmt.Errorf("load mute settings: %w", err)
	}
	latest, err := s.store.LatestReviewsByUser(ctx, userID)
	if err != nil {
		return store.Flashcard{}, false, fmt.Errorf("load review history: %w", err)
	}

	now := s.now()
	eligible := cards[:0]
	for _, card := range cards {
		if card.DeckID != nil && !unmuted[*card.DeckID] {
			continue
		}
		if rev, ok := latest[card.ID]; ok && rev.NextReviewAt.After(now) {
			continue
		}
		eligible = append(eligible, card)
	}
	if len(eligible) == 0 {
		return store.Flashcard{}, false, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible[0], true, nil
}
