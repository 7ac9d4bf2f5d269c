package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the quiz core in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flashcards (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			concept TEXT NOT NULL,
			definition TEXT NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			deck_id TEXT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_flashcards_owner ON flashcards (owner_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS card_reviews (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			flashcard_id TEXT NOT NULL,
			response TEXT NOT NULL,
			correct BOOLEAN NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			quality INTEGER NOT NULL,
			repetition_count INTEGER NOT NULL,
			ease_factor DOUBLE PRECISION NOT NULL,
			interval_days INTEGER NOT NULL,
			next_review_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_card_reviews_user_card ON card_reviews (user_id, flashcard_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS conversation_states (
			user_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			current_flashcard_id TEXT NULL,
			last_sent_flashcard_id TEXT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			context BYTEA NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			version BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_states_stale ON conversation_states (state, last_activity_at);`,
		`CREATE TABLE IF NOT EXISTS deck_mute_settings (
			user_id TEXT NOT NULL,
			deck_id TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (user_id, deck_id)
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			phone TEXT NOT NULL UNIQUE,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			delivery_hours INTEGER[] NOT NULL DEFAULT '{}',
			window_start_hour INTEGER NOT NULL DEFAULT 0,
			window_end_hour INTEGER NOT NULL DEFAULT 0,
			opted_in BOOLEAN NOT NULL DEFAULT FALSE
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateFlashcard(ctx context.Context, card Flashcard) (Flashcard, error) {
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	tags := card.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO flashcards (id, owner_id, concept, definition, tags, deck_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		card.ID, card.OwnerID, card.Concept, card.Definition, tags, card.DeckID, card.CreatedAt,
	)
	if err != nil {
		return Flashcard{}, fmt.Errorf("create flashcard: %w", err)
	}
	return card, nil
}

func (s *PostgresStore) GetFlashcard(ctx context.Context, id string) (Flashcard, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, concept, definition, tags, deck_id, created_at
		   FROM flashcards WHERE id=$1`, id)
	var card Flashcard
	err := row.Scan(&card.ID, &card.OwnerID, &card.Concept, &card.Definition, &card.Tags, &card.DeckID, &card.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Flashcard{}, ErrNotFound
		}
		return Flashcard{}, fmt.Errorf("get flashcard: %w", err)
	}
	return card, nil
}

func (s *PostgresStore) ListFlashcardsByOwner(ctx context.Context, ownerID string) ([]Flashcard, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, concept, definition, tags, deck_id, created_at
		   FROM flashcards WHERE owner_id=$1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list flashcards: %w", err)
	}
	defer rows.Close()

	out := make([]Flashcard, 0, 16)
	for rows.Next() {
		var card Flashcard
		if err := rows.Scan(&card.ID, &card.OwnerID, &card.Concept, &card.Definition, &card.Tags, &card.DeckID, &card.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan flashcard row: %w", err)
		}
		out = append(out, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flashcard rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendReview(ctx context.Context, review CardReview) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO card_reviews (
			id, user_id, flashcard_id, response, correct, confidence, quality,
			repetition_count, ease_factor, interval_days, next_review_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		review.ID, review.UserID, review.FlashcardID, review.Response, review.Correct,
		review.Confidence, review.Quality, review.RepetitionCount, review.EaseFactor,
		review.IntervalDays, review.NextReviewAt, review.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append review: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestReview(ctx context.Context, userID, flashcardID string) (CardReview, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, flashcard_id, response, correct, confidence, quality,
		        repetition_count, ease_factor, interval_days, next_review_at, created_at
		   FROM card_reviews WHERE user_id=$1 AND flashcard_id=$2
		  ORDER BY created_at DESC LIMIT 1`, userID, flashcardID)
	review, err := scanReview(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CardReview{}, ErrNotFound
		}
		return CardReview{}, fmt.Errorf("latest review: %w", err)
	}
	return review, nil
}

func (s *PostgresStore) LatestReviewsByUser(ctx context.Context, userID string) (map[string]CardReview, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (flashcard_id)
		        id, user_id, flashcard_id, response, correct, confidence, quality,
		        repetition_count, ease_factor, interval_days, next_review_at, created_at
		   FROM card_reviews WHERE user_id=$1
		  ORDER BY flashcard_id, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("latest reviews by user: %w", err)
	}
	defer rows.Close()

	out := make(map[string]CardReview)
	for rows.Next() {
		review, err := scanReview(rows)
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

func scanReview(row pgx.Row) (CardReview, error) {
	var r CardReview
	err := row.Scan(
		&r.ID, &r.UserID, &r.FlashcardID, &r.Response, &r.Correct, &r.Confidence,
		&r.Quality, &r.RepetitionCount, &r.EaseFactor, &r.IntervalDays,
		&r.NextReviewAt, &r.CreatedAt,
	)
	return r, err
}

func (s *PostgresStore) GetConversation(ctx context.Context, userID string) (ConversationState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, state, current_flashcard_id, last_sent_flashcard_id,
		        message_count, context, last_activity_at, version
		   FROM conversation_states WHERE user_id=$1`, userID)
	state, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConversationState{}, ErrNotFound
		}
		return ConversationState{}, fmt.Errorf("get conversation: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) PutConversation(ctx context.Context, state ConversationState, expectedVersion int64) (ConversationState, error) {
	if state.LastActivityAt.IsZero() {
		state.LastActivityAt = time.Now().UTC()
	}
	state.Version = expectedVersion + 1

	if expectedVersion == 0 {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO conversation_states (
				user_id, state, current_flashcard_id, last_sent_flashcard_id,
				message_count, context, last_activity_at, version
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (user_id) DO NOTHING`,
			state.UserID, string(state.State), state.CurrentFlashcardID, state.LastSentFlashcardID,
			state.MessageCount, state.Context, state.LastActivityAt, state.Version,
		)
		if err != nil {
			return ConversationState{}, fmt.Errorf("insert conversation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ConversationState{}, ErrVersionConflict
		}
		return state, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE conversation_states SET
			state=$2, current_flashcard_id=$3, last_sent_flashcard_id=$4,
			message_count=$5, context=$6, last_activity_at=$7, version=$8
		  WHERE user_id=$1 AND version=$9`,
		state.UserID, string(state.State), state.CurrentFlashcardID, state.LastSentFlashcardID,
		state.MessageCount, state.Context, state.LastActivityAt, state.Version, expectedVersion,
	)
	if err != nil {
		return ConversationState{}, fmt.Errorf("update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ConversationState{}, ErrVersionConflict
	}
	return state, nil
}

func (s *PostgresStore) ListStaleAwaiting(ctx context.Context, olderThan time.Time) ([]ConversationState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, state, current_flashcard_id, last_sent_flashcard_id,
		        message_count, context, last_activity_at, version
		   FROM conversation_states
		  WHERE state=$1 AND last_activity_at < $2
		  ORDER BY user_id`,
		string(StateAwaitingAnswer), olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationState
	for rows.Next() {
		state, err := scanConversation(rows)
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

func scanConversation(row pgx.Row) (ConversationState, error) {
	var (
		state    ConversationState
		rawState string
	)
	err := row.Scan(
		&state.UserID, &rawState, &state.CurrentFlashcardID, &state.LastSentFlashcardID,
		&state.MessageCount, &state.Context, &state.LastActivityAt, &state.Version,
	)
	if err != nil {
		return ConversationState{}, err
	}
	state.State = SessionState(rawState)
	return state, nil
}

func (s *PostgresStore) UnmutedDeckIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT deck_id FROM deck_mute_settings WHERE user_id=$1 AND enabled`, userID)
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

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, phone, timezone, delivery_hours, window_start_hour, window_end_hour, opted_in
		   FROM users WHERE id=$1`, id)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, phone, timezone, delivery_hours, window_start_hour, window_end_hour, opted_in
		   FROM users WHERE phone=$1`, phone)
	return scanUser(row)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Phone, &u.Timezone, &u.DeliveryHours, &u.WindowStartHour, &u.WindowEndHour, &u.OptedIn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return NormalizeUser(u), nil
}

func (s *PostgresStore) ListOptedInUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, phone, timezone, delivery_hours, window_start_hour, window_end_hour, opted_in
		   FROM users WHERE opted_in ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list opted-in users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Phone, &u.Timezone, &u.DeliveryHours, &u.WindowStartHour, &u.WindowEndHour, &u.OptedIn); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		out = append(out, NormalizeUser(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	hours := u.DeliveryHours
	if hours == nil {
		hours = []int{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, phone, timezone, delivery_hours, window_start_hour, window_end_hour, opted_in)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO UPDATE SET
			phone=EXCLUDED.phone,
			timezone=EXCLUDED.timezone,
			delivery_hours=EXCLUDED.delivery_hours,
			window_start_hour=EXCLUDED.window_start_hour,
			window_end_hour=EXCLUDED.window_end_hour,
			opted_in=EXCLUDED.opted_in`,
		u.ID, u.Phone, u.Timezone, hours, u.WindowStartHour, u.WindowEndHour, u.OptedIn,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
