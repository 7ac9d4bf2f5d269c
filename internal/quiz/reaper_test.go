package quiz

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/store"
)

func TestReaperResetsStaleAwaiting(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	staleCard := "c1"
	stale, err := st.PutConversation(ctx, store.ConversationState{
		UserID:             "stale",
		State:              store.StateAwaitingAnswer,
		CurrentFlashcardID: &staleCard,
		LastActivityAt:     time.Now().Add(-2 * time.Hour),
	}, 0)
	if err != nil {
		t.Fatalf("PutConversation(stale) error = %v", err)
	}

	freshCard := "c2"
	fresh, err := st.PutConversation(ctx, store.ConversationState{
		UserID:             "fresh",
		State:              store.StateAwaitingAnswer,
		CurrentFlashcardID: &freshCard,
		LastActivityAt:     time.Now().Add(-5 * time.Minute),
	}, 0)
	if err != nil {
		t.Fatalf("PutConversation(fresh) error = %v", err)
	}

	reaper := NewStateReaper(st, nil, zap.NewNop(), time.Minute, time.Hour)
	reaper.RunOnce(ctx)

	got, err := st.GetConversation(ctx, "stale")
	if err != nil {
		t.Fatalf("GetConversation(stale) error = %v", err)
	}
	if got.State != store.StateIdle || got.CurrentFlashcardID != nil {
		t.Fatalf("stale conversation = %+v, want idle reset", got)
	}
	if got.Version != stale.Version+1 {
		t.Errorf("stale Version = %d, want %d", got.Version, stale.Version+1)
	}

	got, err = st.GetConversation(ctx, "fresh")
	if err != nil {
		t.Fatalf("GetConversation(fresh) error = %v", err)
	}
	if got.State != store.StateAwaitingAnswer || got.Version != fresh.Version {
		t.Fatalf("fresh conversation = %+v, want untouched", got)
	}
}

func TestReaperIgnoresIdleAndConfirmStates(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	old := time.Now().Add(-3 * time.Hour)
	st.PutConversation(ctx, store.ConversationState{UserID: "idle", State: store.StateIdle, LastActivityAt: old}, 0)
	st.PutConversation(ctx, store.ConversationState{UserID: "confirm", State: store.StateAwaitingConfirm, LastActivityAt: old, Context: []byte(`{}`)}, 0)

	reaper := NewStateReaper(st, nil, zap.NewNop(), time.Minute, time.Hour)
	reaper.RunOnce(ctx)

	got, _ := st.GetConversation(ctx, "confirm")
	if got.State != store.StateAwaitingConfirm {
		t.Fatalf("confirm conversation = %+v, want untouched", got)
	}
}

func TestReaperLosesRaceToAnswer(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	card := "c1"
	seeded, err := st.PutConversation(ctx, store.ConversationState{
		UserID:             "u1",
		State:              store.StateAwaitingAnswer,
		CurrentFlashcardID: &card,
		LastActivityAt:     time.Now().Add(-2 * time.Hour),
	}, 0)
	if err != nil {
		t.Fatalf("PutConversation() error = %v", err)
	}

	// The user answers between the scan and the reset: the stored
	// version moves on and the reaper's stale write must lose.
	answered := seeded
	answered.State = store.StateIdle
	answered.CurrentFlashcardID = nil
	answered.LastActivityAt = time.Now()
	if _, err := st.PutConversation(ctx, answered, seeded.Version); err != nil {
		t.Fatalf("PutConversation(answer) error = %v", err)
	}

	reset := seeded
	reset.State = store.StateIdle
	if _, err := st.PutConversation(ctx, reset, seeded.Version); err == nil {
		t.Fatal("stale reaper write succeeded, want version conflict")
	}
}
