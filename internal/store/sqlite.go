package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the sqlite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS flashcards (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	concept TEXT NOT NULL,
	definition TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	deck_id TEXT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flashcards_owner ON flashcards (owner_id, created_at);

CREATE TABLE IF NOT EXISTS card_reviews (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	flashcard_id TEXT NOT NULL,
	response TEXT NOT NULL,
	correct BOOLEAN NOT NULL,
	confidence REAL NOT NULL,
	quality INTEGER NOT NULL,
	repetition_count INTEGER NOT NULL,
	ease_factor REAL NOT NULL,
	interval_days INTEGER NOT NULL,
	next_review_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_card_reviews_user_card ON card_reviews (user_id, flashcard_id, created_at DESC);

CREATE TABLE IF NOT EXISTS conversation_states (
	user_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	current_flashcard_id TEXT NULL,
	last_sent_flashcard_id TEXT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	context BLOB NULL,
	last_activity_at TIMESTAMP NOT NULL,
	version INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_states_stale ON conversation_states (state, last_activity_at);

CREATE TABLE IF NOT EXISTS deck_mute_settings (
	user_id TEXT NOT NULL,
	deck_id TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, deck_id)
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	phone TEXT NOT NULL UNIQUE,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	delivery_hours TEXT NOT NULL DEFAULT '[]',
	window_start_hour INTEGER NOT NULL DEFAULT 0,
	window_end_hour INTEGER NOT NULL DEFAULT 0,
	opted_in BOOLEAN NOT NULL DEFAULT 0
);
`

// SQLiteStore persists the quiz core in a local SQLite file, useful for
// single-host deployments that do not want to run Postgres.
type SQLiteStore struct {
	conn *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	// The driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent transitions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{conn: db}, nil
}

func (s *SQLiteStore) CreateFlashcard(ctx context.Context, card Flashcard) (Flashcard, error) {
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	tags, err := json.Marshal(card.Tags)
	if err != nil {
		return Flashcard{}, fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO flashcards (id, owner_id, concept, definition, tags, deck_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		card.ID, card.OwnerID, card.Concept, card.Definition, string(tags), card.DeckID, card.CreatedAt,
	)
	if err != nil {
		return Flashcard{}, fmt.Errorf("create flashcard: %w", err)
	}
	return card, nil
}

func (s *SQLiteStore) GetFlashcard(ctx context.Context, id string) (Flashcard, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, owner_id, concept, definition, tags, deck_id, created_at
		   FROM flashcards WHERE id = ?`, id)
	card, err := scanSQLiteFlashcard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Flashcard{}, ErrNotFound
		}
		return Flashcard{}, fmt.Errorf("get flashcard: %w", err)
	}
	return card, nil
}

func (s *SQLiteStore) ListFlashcardsByOwner(ctx context.Context, ownerID string) ([]Flashcard, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, owner_id, concept, definition, tags, deck_id, created_at
		   FROM flashcards WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list flashcards: %w", err)
	}
	defer rows.Close()

	out := make([]Flashcard, 0, 16)
	for rows.Next() {
		card, err := scanSQLiteFlashcard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flashcard row: %w", err)
		}
		out = append(out, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flashcard rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFlashcard(row rowScanner) (Flashcard, error) {
	var (
		card    Flashcard
		rawTags string
		deckID  sql.NullString
	)
	if err := row.Scan(&card.ID, &card.OwnerID, &card.Concept, &card.Definition, &rawTags, &deckID, &card.CreatedAt); err != nil {
		return Flashcard{}, err
	}
	if deckID.Valid {
		card.DeckID = &deckID.String
	}
	if rawTags != "" {
		if err := json.Unmarshal([]byte(rawTags), &card.Tags); err != nil {
			return Flashcard{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return card, nil
}

func (s *SQLiteStore) AppendReview(ctx context.Context, review CardReview) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO card_reviews (
			id, user_id, flashcard_id, response, correct, confidence, quality,
			repetition_count, ease_factor, interval_days, next_review_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		review.ID, review.UserID, review.FlashcardID, review.Response, review.Correct,
		review.Confidence, review.Quality, review.RepetitionCount, review.EaseFactor,
		review.IntervalDays, review.NextReviewAt, review.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append review: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestReview(ctx context.Context, userID, flashcardID string) (CardReview, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, user_id, flashcard_id, response, correct, confidence, quality,
		        repetition_count, ease_factor, interval_days, next_review_at, created_at
		   FROM card_reviews WHERE user_id = ? AND flashcard_id = ?
		  ORDER BY created_at DESC LIMIT 1`, userID, flashcardID)
	review, err := scanSQLiteReview(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CardReview{}, ErrNotFound
		}
		return CardReview{}, fmt.Errorf("latest review: %w", err)
	}
	return review, nil
}

func (s *SQLiteStore) LatestReviewsByUser(ctx context.Context, userID string) (map[string]CardReview, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, user_id, flashcard_id, response, correct, confidence, quality,
		        repetition_count, ease_factor, interval_days, next_review_at, created_at
		   FROM card_reviews WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("latest reviews by user: %w", err)
	}
	defer rows.Close()

	out := make(map[string]CardReview)
	for rows.Next() {
		review, err := scanSQLiteReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		out[review.FlashcardID] = review
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}
	return out, nil
}

func scanSQLiteReview(row rowScanner) (CardReview, error) {
	var r CardReview
	err := row.Scan(
		&r.ID, &r.UserID, &r.FlashcardID, &r.Response, &r.Correct, &r.Confidence,
		&r.Quality, &r.RepetitionCount, &r.EaseFactor, &r.IntervalDays,
		&r.NextReviewAt, &r.CreatedAt,
	)
	return r, err
}

func (s *SQLiteStore) GetConversation(ctx context.Context, userID string) (ConversationState, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT user_id, state, current_flashcard_id, last_sent_flashcard_id,
		        message_count, context, last_activity_at, version
		   FROM conversation_states WHERE user_id = ?`, userID)
	state, err := scanSQLiteConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConversationState{}, ErrNotFound
		}
		return ConversationState{}, fmt.Errorf("get conversation: %w", err)
	}
	return state, nil
}

func (s *SQLiteStore) PutConversation(ctx context.Context, state ConversationState, expectedVersion int64) (ConversationState, error) {
	if state.LastActivityAt.IsZero() {
		state.LastActivityAt = time.Now().UTC()
	}
	state.Version = expectedVersion + 1

	if expectedVersion == 0 {
		res, err := s.conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO conversation_states (
				user_id, state, current_flashcard_id, last_sent_flashcard_id,
				message_count, context, last_activity_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			state.UserID, string(state.State), state.CurrentFlashcardID, state.LastSentFlashcardID,
			state.MessageCount, state.Context, state.LastActivityAt, state.Version,
		)
		if err != nil {
			return ConversationState{}, fmt.Errorf("insert conversation: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return ConversationState{}, ErrVersionConflict
		}
		return state, nil
	}

	res, err := s.conn.ExecContext(ctx,
		`UPDATE conversation_states SET
			state = ?, current_flashcard_id = ?, last_sent_flashcard_id = ?,
			message_count = ?, context = ?, last_activity_at = ?, version = ?
		  WHERE user_id = ? AND version = ?`,
		string(state.State), state.CurrentFlashcardID, state.LastSentFlashcardID,
		state.MessageCount, state.Context, state.LastActivityAt, state.Version,
		state.UserID, expectedVersion,
	)
	if err != nil {
		return ConversationState{}, fmt.Errorf("update conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return ConversationState{}, ErrVersionConflict
	}
	return state, nil
}

func (s *SQLiteStore) ListStaleAwaiting(ctx context.Context, olderThan time.Time) ([]ConversationState, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT user_id, state, current_flashcard_id, last_sent_flashcard_id,
		        message_count, context, last_activity_at, version
		   FROM conversation_states
		  WHERE state = ? AND last_activity_at < ?
		  ORDER BY user_id`,
		string(StateAwaitingAnswer), olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationState
	for rows.Next() {
		state, err := scanSQLiteConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func scanSQLiteConversation(row rowScanner) (ConversationState, error) {
	var (
		state    ConversationState
		rawState string
		current  sql.NullString
		lastSent sql.NullString
	)
	err := row.Scan(
		&state.UserID, &rawState, &current, &lastSent,
		&state.MessageCount, &state.Context, &state.LastActivityAt, &state.Version,
	)
	if err != nil {
		return ConversationState{}, err
	}
	state.State = SessionState(rawState)
	if current.Valid {
		state.CurrentFlashcardID = &current.String
	}
	if lastSent.Valid {
		state.LastSentFlashcardID = &lastSent.String
	}
	return state, nil
}

func (s *SQLiteStore) UnmutedDeckIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT deck_id FROM deck_mute_settings WHERE user_id = ? AND enabled`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unmuted decks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var deckID string
		if err := rows.Scan(&deckID); err != nil {
			return nil, fmt.Errorf("scan deck row: %w", err)
		}
		out[deckID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deck rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (User, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, phone, timezone, delivery_hours, window_start_hour, window_end_hour, opted_in
		   FROM users WHERE id = ?`, id)
	return scanSQLiteUser(row)
}

func (s *SQLiteStore) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, phone, timezone, delivery_hours, window_start_hour, window_end_hour, opted_in
		   FROM users WHERE phone = ?`, phone)
	return scanSQLiteUser(row)
}

func scanSQLiteUser(row rowScanner) (User, error) {
	var (
		u        User
		rawHours string
	)
	err := row.Scan(&u.ID, &u.Phone, &u.Timezone, &rawHours, &u.WindowStartHour, &u.WindowEndHour, &u.OptedIn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if rawHours != "" {
		if err := json.Unmarshal([]byte(rawHours), &u.DeliveryHours); err != nil {
			return User{}, fmt.Errorf("unmarshal delivery hours: %w", err)
		}
	}
	return NormalizeUser(u), nil
}

func (s *SQLiteStore) ListOptedInUsers(ctx context.Context) ([]User, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, phone, timezone, delivery_hours, window_start_hour, window_end_hour, opted_in
		   FROM users WHERE opted_in ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list opted-in users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, u User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	hours, err := json.Marshal(u.DeliveryHours)
	if err != nil {
		return fmt.Errorf("marshal delivery hours: %w", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO users (id, phone, timezone, delivery_hours, window_start_hour, window_end_hour, opted_in)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			phone=excluded.phone,
			timezone=excluded.timezone,
			delivery_hours=excluded.delivery_hours,
			window_start_hour=excluded.window_start_hour,
			window_end_hour=excluded.window_end_hour,
			opted_in=excluded.opted_in`,
		u.ID, u.Phone, u.Timezone, string(hours), u.WindowStartHour, u.WindowEndHour, u.OptedIn,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
