package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/assist"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/gateway"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/protocol"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/store"
)

type stubGrader struct {
	eval  assist.Evaluation
	err   error
	calls atomic.Int32
}

func (g *stubGrader) Evaluate(ctx context.Context, concept, definition, response string) (assist.Evaluation, error) {
	g.calls.Add(1)
	return g.eval, g.err
}

type stubDrafter struct {
	draft assist.CardDraft
	err   error
}

func (d *stubDrafter) Draft(ctx context.Context, freeText string) (assist.CardDraft, error) {
	return d.draft, d.err
}

type rig struct {
	store   *store.MemoryStore
	sender  *gateway.MockSender
	grader  *stubGrader
	drafter *stubDrafter
	orch    *Orchestrator
}

func newRig(t *testing.T) *rig {
	t.Helper()
	st := store.NewMemoryStore()
	r := &rig{
		store:   st,
		sender:  gateway.NewMockSender(),
		grader:  &stubGrader{eval: assist.Evaluation{Correct: true, Confidence: 0.95, Feedback: "Correct!"}},
		drafter: &stubDrafter{draft: assist.CardDraft{Concept: "Osmosis", Definition: "solvent moves across a membrane"}},
	}
	r.orch = NewOrchestrator(st, NewSelector(st), r.grader, r.drafter, r.sender, nil, zap.NewNop())
	return r
}

func (r *rig) seedUser(t *testing.T) store.User {
	t.Helper()
	u := store.User{ID: "u1", Phone: "+15550001", Timezone: "UTC", OptedIn: true}
	if err := r.store.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	return u
}

func (r *rig) seedCard(t *testing.T, id, concept string, createdAt time.Time) store.Flashcard {
	t.Helper()
	card, err := r.store.CreateFlashcard(context.Background(), store.Flashcard{
		ID:         id,
		OwnerID:    "u1",
		Concept:    concept,
		Definition: "definition of " + concept,
		CreatedAt:  createdAt,
	})
	if err != nil {
		t.Fatalf("CreateFlashcard() error = %v", err)
	}
	return card
}

func inbound(body, token string) protocol.InboundEvent {
	return protocol.InboundEvent{
		Kind:   protocol.KindInboundMessage,
		Sender: "+15550001",
		Body:   body,
		Token:  token,
	}
}

func (r *rig) conversation(t *testing.T) store.ConversationState {
	t.Helper()
	convo, err := r.store.GetConversation(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	return convo
}

func TestStartSessionSendsDueQuestion(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	card := r.seedCard(t, "c1", "TCP", time.Now().Add(-time.Hour))

	if err := r.orch.StartSession(context.Background(), "u1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	convo := r.conversation(t)
	if convo.State != store.StateAwaitingAnswer {
		t.Fatalf("state = %q, want awaiting_answer", convo.State)
	}
	if convo.CurrentFlashcardID == nil || *convo.CurrentFlashcardID != card.ID {
		t.Fatalf("current card = %v, want %s", convo.CurrentFlashcardID, card.ID)
	}
	sent := r.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(sent))
	}
	if sent[0].Token != protocol.CardToken(card.ID) {
		t.Errorf("token = %q, want %q", sent[0].Token, protocol.CardToken(card.ID))
	}
	if !strings.Contains(sent[0].Body, "TCP") {
		t.Errorf("question body = %q, want concept included", sent[0].Body)
	}
}

func TestStartSessionNothingDue(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)

	if err := r.orch.StartSession(context.Background(), "u1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if convo := r.conversation(t); convo.State != store.StateIdle {
		t.Fatalf("state = %q, want idle", convo.State)
	}
	sent := r.sender.Sent()
	if len(sent) != 1 || sent[0].Body != msgNothingDue {
		t.Fatalf("sent = %+v, want single nothing-due message", sent)
	}
}

func TestAnswerWritesReviewAndContinues(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	first := r.seedCard(t, "c1", "TCP", time.Now().Add(-2*time.Hour))
	second := r.seedCard(t, "c2", "UDP", time.Now().Add(-time.Hour))

	ctx := context.Background()
	if err := r.orch.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := r.orch.HandleEvent(ctx, inbound("reliable byte stream", protocol.CardToken(first.ID))); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	review, err := r.store.LatestReview(ctx, "u1", first.ID)
	if err != nil {
		t.Fatalf("LatestReview() error = %v", err)
	}
	if !review.Correct || review.Quality != 5 || review.RepetitionCount != 1 {
		t.Fatalf("review = %+v, want correct grade-5 first rep", review)
	}
	if !review.NextReviewAt.After(time.Now()) {
		t.Errorf("NextReviewAt = %v, want future", review.NextReviewAt)
	}

	convo := r.conversation(t)
	if convo.State != store.StateAwaitingAnswer {
		t.Fatalf("state = %q, want awaiting_answer with next card in flight", convo.State)
	}
	if convo.CurrentFlashcardID == nil || *convo.CurrentFlashcardID != second.ID {
		t.Fatalf("current card = %v, want %s", convo.CurrentFlashcardID, second.ID)
	}
}

func TestAnswerLastCardSendsCaughtUp(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	card := r.seedCard(t, "c1", "TCP", time.Now().Add(-time.Hour))

	ctx := context.Background()
	if err := r.orch.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := r.orch.HandleEvent(ctx, inbound("a transport protocol", protocol.CardToken(card.ID))); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	convo := r.conversation(t)
	if convo.State != store.StateIdle || convo.CurrentFlashcardID != nil {
		t.Fatalf("conversation = %+v, want idle with no card", convo)
	}
	sent := r.sender.Sent()
	last := sent[len(sent)-1]
	if last.Body != msgCaughtUp {
		t.Fatalf("last message = %q, want caught-up", last.Body)
	}
}

func TestAnswerByStoredStateWithoutToken(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	card := r.seedCard(t, "c1", "TCP", time.Now().Add(-time.Hour))

	ctx := context.Background()
	if err := r.orch.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := r.orch.HandleEvent(ctx, inbound("reliable byte stream", "")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if _, err := r.store.LatestReview(ctx, "u1", card.ID); err != nil {
		t.Fatalf("LatestReview() error = %v, want review written from stored state", err)
	}
}

func TestSkipGradesIncorrectWithoutGrader(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	card := r.seedCard(t, "c1", "TCP", time.Now().Add(-time.Hour))

	ctx := context.Background()
	if err := r.orch.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := r.orch.HandleEvent(ctx, inbound("skip", "")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if got := r.grader.calls.Load(); got != 0 {
		t.Fatalf("grader calls = %d, want 0 for skip", got)
	}
	review, err := r.store.LatestReview(ctx, "u1", card.ID)
	if err != nil {
		t.Fatalf("LatestReview() error = %v", err)
	}
	if review.Correct || review.Confidence != 0 || review.Quality != 0 {
		t.Fatalf("review = %+v, want incorrect zero-confidence", review)
	}
}

func TestGraderFailureLeavesStateUnchanged(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	card := r.seedCard(t, "c1", "TCP", time.Now().Add(-time.Hour))
	r.grader.err = errors.New("upstream down")

	ctx := context.Background()
	if err := r.orch.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	err := r.orch.HandleEvent(ctx, inbound("an answer", protocol.CardToken(card.ID)))
	if !errors.Is(err, ErrGraderFailure) {
		t.Fatalf("HandleEvent() error = %v, want ErrGraderFailure", err)
	}

	convo := r.conversation(t)
	if convo.State != store.StateAwaitingAnswer || convo.CurrentFlashcardID == nil || *convo.CurrentFlashcardID != card.ID {
		t.Fatalf("conversation = %+v, want unchanged awaiting_answer", convo)
	}
	if _, err := r.store.LatestReview(ctx, "u1", card.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LatestReview() error = %v, want no review written", err)
	}
	sent := r.sender.Sent()
	if sent[len(sent)-1].Body != msgGraderDown {
		t.Fatalf("last message = %q, want grader apology", sent[len(sent)-1].Body)
	}
}

func TestAnswerForMissingCardResetsSession(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)

	ctx := context.Background()
	err := r.orch.HandleEvent(ctx, inbound("an answer", protocol.CardToken("ghost")))
	if !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("HandleEvent() error = %v, want ErrCardNotFound", err)
	}
	if convo := r.conversation(t); convo.State != store.StateIdle || convo.CurrentFlashcardID != nil {
		t.Fatalf("conversation = %+v, want idle reset", convo)
	}
	sent := r.sender.Sent()
	if len(sent) != 1 || sent[0].Body != msgCardMissing {
		t.Fatalf("sent = %+v, want single apology", sent)
	}
}

func TestSendFailureDoesNotRollBackReview(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	card := r.seedCard(t, "c1", "TCP", time.Now().Add(-time.Hour))

	ctx := context.Background()
	if err := r.orch.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	r.sender.FailWith(errors.New("carrier down"))

	if err := r.orch.HandleEvent(ctx, inbound("an answer", protocol.CardToken(card.ID))); err != nil {
		t.Fatalf("HandleEvent() error = %v, want nil despite send failure", err)
	}
	if _, err := r.store.LatestReview(ctx, "u1", card.ID); err != nil {
		t.Fatalf("LatestReview() error = %v, want committed review", err)
	}
}

func TestDraftFlowConfirm(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	ctx := context.Background()

	if err := r.orch.HandleEvent(ctx, inbound("create osmosis stuff", "")); err != nil {
		t.Fatalf("HandleEvent(create) error = %v", err)
	}
	convo := r.conversation(t)
	if convo.State != store.StateAwaitingConfirm || len(convo.Context) == 0 {
		t.Fatalf("conversation = %+v, want awaiting_draft_confirmation with context", convo)
	}

	if err := r.orch.HandleEvent(ctx, inbound("yes", "")); err != nil {
		t.Fatalf("HandleEvent(yes) error = %v", err)
	}
	convo = r.conversation(t)
	if convo.State != store.StateIdle || convo.Context != nil {
		t.Fatalf("conversation = %+v, want idle with cleared context", convo)
	}
	cards, err := r.store.ListFlashcardsByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListFlashcardsByOwner() error = %v", err)
	}
	if len(cards) != 1 || cards[0].Concept != "Osmosis" {
		t.Fatalf("cards = %+v, want the saved draft", cards)
	}
}

func TestDraftFlowReject(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	ctx := context.Background()

	if err := r.orch.HandleEvent(ctx, inbound("create osmosis stuff", "")); err != nil {
		t.Fatalf("HandleEvent(create) error = %v", err)
	}
	if err := r.orch.HandleEvent(ctx, inbound("no", "")); err != nil {
		t.Fatalf("HandleEvent(no) error = %v", err)
	}
	convo := r.conversation(t)
	if convo.State != store.StateIdle || convo.Context != nil {
		t.Fatalf("conversation = %+v, want discarded draft", convo)
	}
	cards, _ := r.store.ListFlashcardsByOwner(ctx, "u1")
	if len(cards) != 0 {
		t.Fatalf("cards = %+v, want none after rejection", cards)
	}
}

func TestDraftFlowUnclearKeepsState(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	ctx := context.Background()

	if err := r.orch.HandleEvent(ctx, inbound("create osmosis stuff", "")); err != nil {
		t.Fatalf("HandleEvent(create) error = %v", err)
	}
	before := r.conversation(t)
	if err := r.orch.HandleEvent(ctx, inbound("maybe later", "")); err != nil {
		t.Fatalf("HandleEvent(unclear) error = %v", err)
	}
	after := r.conversation(t)
	if after.State != store.StateAwaitingConfirm || after.Version != before.Version {
		t.Fatalf("conversation changed: before %+v, after %+v", before, after)
	}
	sent := r.sender.Sent()
	if sent[len(sent)-1].Body != msgDraftUnclear {
		t.Fatalf("last message = %q, want re-prompt", sent[len(sent)-1].Body)
	}
}

func TestDrafterFailurePromptsRetry(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	r.drafter.err = errors.New("drafting down")

	if err := r.orch.HandleEvent(context.Background(), inbound("create osmosis stuff", "")); err != nil {
		t.Fatalf("HandleEvent(create) error = %v", err)
	}
	if convo := r.conversation(t); convo.State == store.StateAwaitingConfirm {
		t.Fatal("state entered awaiting_draft_confirmation despite drafter failure")
	}
	sent := r.sender.Sent()
	if sent[len(sent)-1].Body != msgDrafterDown {
		t.Fatalf("last message = %q, want drafter apology", sent[len(sent)-1].Body)
	}
}

func TestFallbackSendsHelp(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)

	if err := r.orch.HandleEvent(context.Background(), inbound("what is this", "")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	sent := r.sender.Sent()
	if len(sent) != 1 || sent[0].Body != msgHelp {
		t.Fatalf("sent = %+v, want single help message", sent)
	}
	if convo := r.conversation(t); convo.State != store.StateIdle {
		t.Fatalf("state = %q, want idle", convo.State)
	}
}

func TestUnknownSenderDropped(t *testing.T) {
	r := newRig(t)

	evt := protocol.InboundEvent{Kind: protocol.KindInboundMessage, Sender: "+19999999", Body: "yes"}
	if err := r.orch.HandleEvent(context.Background(), evt); err != nil {
		t.Fatalf("HandleEvent() error = %v, want nil for unknown sender", err)
	}
	if sent := r.sender.Sent(); len(sent) != 0 {
		t.Fatalf("sent = %+v, want nothing", sent)
	}
}

func TestAckEventsIgnored(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)

	evt := protocol.InboundEvent{Kind: protocol.KindOutboundAck, Sender: "+15550001"}
	if err := r.orch.HandleEvent(context.Background(), evt); err != nil {
		t.Fatalf("HandleEvent(ack) error = %v", err)
	}
	if sent := r.sender.Sent(); len(sent) != 0 {
		t.Fatalf("sent = %+v, want nothing for ack", sent)
	}
}

func TestConcurrentAnswersDistinctCards(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	first := r.seedCard(t, "c1", "TCP", time.Now().Add(-2*time.Hour))
	second := r.seedCard(t, "c2", "UDP", time.Now().Add(-time.Hour))

	ctx := context.Background()
	if err := r.orch.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	var wg sync.WaitGroup
	for _, card := range []store.Flashcard{first, second} {
		wg.Add(1)
		go func(c store.Flashcard) {
			defer wg.Done()
			_ = r.orch.HandleEvent(ctx, inbound("answer for "+c.Concept, protocol.CardToken(c.ID)))
		}(card)
	}
	wg.Wait()

	for _, c := range []store.Flashcard{first, second} {
		reviews, err := r.store.LatestReviewsByUser(ctx, "u1")
		if err != nil {
			t.Fatalf("LatestReviewsByUser() error = %v", err)
		}
		if _, ok := reviews[c.ID]; !ok {
			t.Fatalf("no review for card %s", c.ID)
		}
	}
	all, _ := r.store.LatestReviewsByUser(ctx, "u1")
	if len(all) != 2 {
		t.Fatalf("distinct reviewed cards = %d, want 2", len(all))
	}

	convo := r.conversation(t)
	if convo.CurrentFlashcardID != nil {
		// Both cards were answered, so neither may remain in flight.
		t.Fatalf("current card = %s, want none", *convo.CurrentFlashcardID)
	}
	if convo.State != store.StateIdle {
		t.Fatalf("state = %q, want idle", convo.State)
	}
}

func TestPutConversationRetriesAfterConflict(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	seeded, err := r.store.PutConversation(ctx, store.ConversationState{
		UserID: "u1",
		State:  store.StateAwaitingAnswer,
	}, 0)
	if err != nil {
		t.Fatalf("PutConversation() error = %v", err)
	}

	// Stale version simulates losing a race to the reaper.
	stale := seeded
	stale.State = store.StateIdle
	stale.Version = 0
	stored, err := r.orch.putConversation(ctx, stale)
	if err != nil {
		t.Fatalf("putConversation() error = %v, want retry to succeed", err)
	}
	if stored.Version != seeded.Version+1 {
		t.Fatalf("Version = %d, want %d", stored.Version, seeded.Version+1)
	}
	if stored.State != store.StateIdle {
		t.Fatalf("State = %q, want idle", stored.State)
	}
}

func TestSkipHintEveryFifthQuestion(t *testing.T) {
	r := newRig(t)
	r.seedUser(t)
	for i := 0; i < skipHintEvery; i++ {
		r.seedCard(t, fmt.Sprintf("c%d", i), fmt.Sprintf("Concept%d", i), time.Now().Add(-time.Duration(10-i)*time.Hour))
	}

	ctx := context.Background()
	if err := r.orch.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	for i := 0; i < skipHintEvery-1; i++ {
		if err := r.orch.HandleEvent(ctx, inbound("some answer", "")); err != nil {
			t.Fatalf("HandleEvent(%d) error = %v", i, err)
		}
	}

	var questions []gateway.SentMessage
	for _, m := range r.sender.Sent() {
		if m.Token != "" {
			questions = append(questions, m)
		}
	}
	if len(questions) != skipHintEvery {
		t.Fatalf("questions sent = %d, want %d", len(questions), skipHintEvery)
	}
	for i, q := range questions {
		hasHint := strings.Contains(q.Body, msgSkipHint)
		wantHint := i == skipHintEvery-1
		if hasHint != wantHint {
			t.Errorf("question %d hint = %v, want %v", i+1, hasHint, wantHint)
		}
	}
}
