package store

import "time"

// Flashcard is a single concept/definition pair. The quiz core treats
// cards as read-only except for the draft-confirmation flow, which may
// create one.
type Flashcard struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Concept    string    `json:"concept"`
	Definition string    `json:"definition"`
	Tags       []string  `json:"tags,omitempty"`
	DeckID     *string   `json:"deck_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CardReview is one append-only ledger entry per graded attempt. A
// card's current scheduling state is always derived from its most
// recent review for that user; there is no separate schedule record.
type CardReview struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	FlashcardID     string    `json:"flashcard_id"`
	Response        string    `json:"response"`
	Correct         bool      `json:"correct"`
	Confidence      float64   `json:"confidence"`
	Quality         int       `json:"quality"`
	RepetitionCount int       `json:"repetition_count"`
	EaseFactor      float64   `json:"ease_factor"`
	IntervalDays    int       `json:"interval_days"`
	NextReviewAt    time.Time `json:"next_review_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionState enumerates the per-user conversation states.
type SessionState string

const (
	StateIdle            SessionState = "idle"
	StateAwaitingAnswer  SessionState = "awaiting_answer"
	StateAwaitingConfirm SessionState = "awaiting_draft_confirmation"
)

// ConversationState is the single mutable per-user record in the hot
// path: at most one row per user, created lazily, updated only through
// compare-and-swap on Version.
type ConversationState struct {
	UserID              string       `json:"user_id"`
	State               SessionState `json:"state"`
	CurrentFlashcardID  *string      `json:"current_flashcard_id,omitempty"`
	LastSentFlashcardID *string      `json:"last_sent_flashcard_id,omitempty"`
	MessageCount        int          `json:"message_count"`
	Context             []byte       `json:"context,omitempty"`
	LastActivityAt      time.Time    `json:"last_activity_at"`
	Version             int64        `json:"version"`
}

// DeckMuteSetting opts a (user, deck) pair into the messaging channel.
// Absence of a row means the deck is muted; cards without a deck are
// always eligible.
type DeckMuteSetting struct {
	UserID  string `json:"user_id"`
	DeckID  string `json:"deck_id"`
	Enabled bool   `json:"enabled"`
}

// User is the read model the dispatcher and orchestrator need: channel
// identity, timezone, and preferred local delivery hours. Provisioning
// happens outside this service.
type User struct {
	ID              string `json:"id"`
	Phone           string `json:"phone"`
	Timezone        string `json:"timezone"`
	DeliveryHours   []int  `json:"delivery_hours,omitempty"`
	WindowStartHour int    `json:"window_start_hour"`
	WindowEndHour   int    `json:"window_end_hour"`
	OptedIn         bool   `json:"opted_in"`
}

// Delivery defaults applied when a user row leaves them unset.
const (
	DefaultDeliveryHour    = 12
	DefaultWindowStartHour = 9
	DefaultWindowEndHour   = 21
)

// NormalizeUser fills in delivery defaults so callers never branch on
// zero values.
func NormalizeUser(u User) User {
	if len(u.DeliveryHours) == 0 {
		u.DeliveryHours = []int{DefaultDeliveryHour}
	}
	if u.WindowStartHour == 0 && u.WindowEndHour == 0 {
		u.WindowStartHour = DefaultWindowStartHour
		u.WindowEndHour = DefaultWindowEndHour
	}
	return u
}
