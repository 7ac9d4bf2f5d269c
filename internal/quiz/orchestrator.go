package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/assist"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/gateway"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/observability"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/protocol"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/reliability"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/scheduler"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/store"
)

const (
	maxCASAttempts = 3
	casBackoffBase = 50 * time.Millisecond
	casBackoffCap  = 500 * time.Millisecond

	// Every skipHintEvery-th question carries a reminder that "skip"
	// is accepted.
	skipHintEvery = 5
)

// Orchestrator is the per-user conversation state machine. It consumes
// one inbound event at a time, consults the scheduler and selector,
// calls the external grader/drafter/gateway, and mutates the single
// ConversationState row for that user.
//
// All transitions for one user are serialized through a keyed lock;
// the compare-and-swap on ConversationState.Version catches the one
// writer that bypasses the lock, the reaper.
type Orchestrator struct {
	store    store.Store
	selector *Selector
	grader   assist.Grader
	drafter  assist.Drafter
	sender   gateway.Sender
	metrics  *observability.Metrics
	logger   *zap.Logger
	locks    *userLocks

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(
	s store.Store,
	sel *Selector,
	grader assist.Grader,
	drafter assist.Drafter,
	sender gateway.Sender,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    s,
		selector: sel,
		grader:   grader,
		drafter:  drafter,
		sender:   sender,
		metrics:  metrics,
		logger:   logger,
		locks:    newUserLocks(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// HandleEvent processes one gateway event. Only inbound_message events
// drive the state machine; acks and failures are logged and dropped.
func (o *Orchestrator) HandleEvent(ctx context.Context, evt protocol.InboundEvent) error {
	switch evt.Kind {
	case protocol.KindInboundMessage:
	case protocol.KindOutboundAck:
		o.logger.Debug("outbound ack", zap.String("sender", evt.Sender))
		return nil
	case protocol.KindOutboundFailed:
		o.logger.Warn("outbound delivery failed", zap.String("sender", evt.Sender))
		o.countSend("provider_failed")
		return nil
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnsupportedKind, evt.Kind)
	}

	user, err := o.store.GetUserByPhone(ctx, evt.Sender)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.logger.Info("message from unknown sender dropped", zap.String("sender", evt.Sender))
			return nil
		}
		return fmt.Errorf("resolve sender: %w", err)
	}
	user = store.NormalizeUser(user)

	release, err := o.locks.acquire(ctx, user.ID)
	if err != nil {
		return err
	}
	defer release()

	convo, err := o.loadConversation(ctx, user.ID)
	if err != nil {
		return err
	}
	return o.dispatchEvent(ctx, user, convo, evt)
}

// dispatchEvent evaluates the ordered transition rules; the first match
// wins so ambiguous text is never interpreted twice.
func (o *Orchestrator) dispatchEvent(ctx context.Context, user store.User, convo store.ConversationState, evt protocol.InboundEvent) error {
	body := strings.TrimSpace(evt.Body)

	if cardID, ok := o.resolvePendingCard(evt, convo); ok && body != "" {
		o.countRule("answer")
		return o.handleAnswer(ctx, user, convo, cardID, body)
	}

	if convo.State == store.StateAwaitingConfirm {
		switch {
		case protocol.IsAffirmative(body):
			o.countRule("draft_confirmed")
			return o.handleDraftConfirmed(ctx, user, convo)
		case protocol.IsNegative(body):
			o.countRule("draft_rejected")
			return o.handleDraftRejected(ctx, user, convo)
		default:
			o.countRule("draft_unclear")
			o.send(ctx, user, msgDraftUnclear, "")
			return nil
		}
	}

	if protocol.IsAffirmative(body) {
		o.countRule("session_start")
		return o.startSession(ctx, user, convo)
	}

	if freeText, ok := protocol.ParseCreateCommand(body); ok {
		o.countRule("draft_request")
		return o.handleDraftRequest(ctx, user, convo, freeText)
	}

	o.countRule("fallback")
	if convo.State != store.StateAwaitingAnswer {
		convo.State = store.StateIdle
		convo.CurrentFlashcardID = nil
		convo.Context = nil
		if _, err := o.putConversation(ctx, convo); err != nil {
			return err
		}
	}
	o.send(ctx, user, msgHelp, "")
	return nil
}

// resolvePendingCard decides which card an inbound reply concerns.
// Precedence: the event's correlation token first; failing that, the
// stored current card while the session is awaiting an answer.
func (o *Orchestrator) resolvePendingCard(evt protocol.InboundEvent, convo store.ConversationState) (string, bool) {
	if id, ok := protocol.ParseCardToken(evt.Token); ok {
		return id, true
	}
	if convo.State == store.StateAwaitingAnswer && convo.CurrentFlashcardID != nil {
		return *convo.CurrentFlashcardID, true
	}
	return "", false
}

func (o *Orchestrator) handleAnswer(ctx context.Context, user store.User, convo store.ConversationState, cardID, body string) error {
	card, err := o.store.GetFlashcard(ctx, cardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("answered card missing", zap.String("user", user.ID), zap.String("card", cardID))
			convo.State = store.StateIdle
			convo.CurrentFlashcardID = nil
			if _, perr := o.putConversation(ctx, convo); perr != nil {
				return perr
			}
			o.send(ctx, user, msgCardMissing, "")
			return fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
		}
		return fmt.Errorf("load card: %w", err)
	}

	var (
		correct    bool
		confidence float64
		feedback   string
	)
	if protocol.IsSkip(body) {
		correct, confidence = false, 0
		feedback = msgSkipped
	} else {
		started := o.now()
		eval, err := o.grader.Evaluate(ctx, card.Concept, card.Definition, body)
		if err != nil {
			o.logger.Error("grading failed", zap.String("user", user.ID), zap.String("card", cardID), zap.Error(err))
			o.send(ctx, user, msgGraderDown, "")
			return fmt.Errorf("%w: %v", ErrGraderFailure, err)
		}
		if o.metrics != nil {
			o.metrics.ObserveGraderLatency(o.now().Sub(started))
		}
		correct, confidence, feedback = eval.Correct, eval.Confidence, eval.Feedback
	}

	prior := scheduler.NewState()
	if last, err := o.store.LatestReview(ctx, user.ID, cardID); err == nil {
		prior = scheduler.SM2State{
			RepetitionCount: last.RepetitionCount,
			EaseFactor:      last.EaseFactor,
			IntervalDays:    last.IntervalDays,
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load prior review: %w", err)
	}

	quality := scheduler.Quality(confidence, correct)
	next := scheduler.SM2(prior, quality)
	interval := scheduler.ConfidenceAdjust(next.IntervalDays, correct, confidence)

	now := o.now()
	nextReview, err := scheduler.NextReview(now, interval, user.WindowStartHour, user.WindowEndHour, user.Timezone)
	if err != nil {
		return fmt.Errorf("%w: user %s timezone %q: %v", ErrConfiguration, user.ID, user.Timezone, err)
	}

	review := store.CardReview{
		ID:              o.newID(),
		UserID:          user.ID,
		FlashcardID:     cardID,
		Response:        body,
		Correct:         correct,
		Confidence:      confidence,
		Quality:         quality,
		RepetitionCount: next.RepetitionCount,
		EaseFactor:      next.EaseFactor,
		IntervalDays:    interval,
		NextReviewAt:    nextReview,
		CreatedAt:       now,
	}
	if err := o.store.AppendReview(ctx, review); err != nil {
		return fmt.Errorf("append review: %w", err)
	}
	o.countReview(correct)

	convo.State = store.StateIdle
	convo.CurrentFlashcardID = nil
	convo, err = o.putConversation(ctx, convo)
	if err != nil {
		return err
	}

	// The review is committed; from here on delivery is best-effort.
	o.send(ctx, user, feedback, "")
	return o.continueSession(ctx, user, convo)
}

// continueSession sends the next due question or an explicit
// completion message, so an answering user is never left hanging.
func (o *Orchestrator) continueSession(ctx context.Context, user store.User, convo store.ConversationState) error {
	card, ok, err := o.selector.NextDue(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("select next card: %w", err)
	}
	if !ok {
		o.send(ctx, user, msgCaughtUp, "")
		return nil
	}
	return o.sendQuestion(ctx, user, convo, card)
}

func (o *Orchestrator) handleDraftConfirmed(ctx context.Context, user store.User, convo store.ConversationState) error {
	var draft assist.CardDraft
	if err := json.Unmarshal(convo.Context, &draft); err != nil || strings.TrimSpace(draft.Concept) == "" {
		o.logger.Warn("pending draft unreadable, discarding", zap.String("user", user.ID), zap.Error(err))
		return o.handleDraftRejected(ctx, user, convo)
	}

	card := store.Flashcard{
		ID:         o.newID(),
		OwnerID:    user.ID,
		Concept:    draft.Concept,
		Definition: draft.Definition,
		Tags:       draft.Tags,
		CreatedAt:  o.now(),
	}
	if _, err := o.store.CreateFlashcard(ctx, card); err != nil {
		return fmt.Errorf("create drafted card: %w", err)
	}
	if o.metrics != nil {
		o.metrics.CardsDrafted.Inc()
	}

	convo.State = store.StateIdle
	convo.Context = nil
	if _, err := o.putConversation(ctx, convo); err != nil {
		return err
	}
	o.send(ctx, user, draftSavedText(draft.Concept), "")
	return nil
}

func (o *Orchestrator) handleDraftRejected(ctx context.Context, user store.User, convo store.ConversationState) error {
	convo.State = store.StateIdle
	convo.Context = nil
	if _, err := o.putConversation(ctx, convo); err != nil {
		return err
	}
	o.send(ctx, user, msgDraftDiscard, "")
	return nil
}

func (o *Orchestrator) handleDraftRequest(ctx context.Context, user store.User, convo store.ConversationState, freeText string) error {
	draft, err := o.drafter.Draft(ctx, freeText)
	if err != nil {
		o.logger.Error("drafting failed", zap.String("user", user.ID), zap.Error(err))
		o.send(ctx, user, msgDrafterDown, "")
		return nil
	}

	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	convo.State = store.StateAwaitingConfirm
	convo.CurrentFlashcardID = nil
	convo.Context = payload
	if _, err := o.putConversation(ctx, convo); err != nil {
		return err
	}
	o.send(ctx, user, draftConfirmText(draft.Concept, draft.Definition), "")
	return nil
}

// StartSession begins a quiz session for a user: the dispatcher's tick
// path and the manual trigger both land here.
func (o *Orchestrator) StartSession(ctx context.Context, userID string) error {
	user, err := o.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	user = store.NormalizeUser(user)

	release, err := o.locks.acquire(ctx, user.ID)
	if err != nil {
		return err
	}
	defer release()

	convo, err := o.loadConversation(ctx, user.ID)
	if err != nil {
		return err
	}
	return o.startSession(ctx, user, convo)
}

func (o *Orchestrator) startSession(ctx context.Context, user store.User, convo store.ConversationState) error {
	card, ok, err := o.selector.NextDue(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("select due card: %w", err)
	}
	if !ok {
		convo.State = store.StateIdle
		convo.CurrentFlashcardID = nil
		if _, err := o.putConversation(ctx, convo); err != nil {
			return err
		}
		o.send(ctx, user, msgNothingDue, "")
		return nil
	}
	if err := o.sendQuestion(ctx, user, convo, card); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.SessionsStarted.Inc()
	}
	return nil
}

// sendQuestion commits the awaiting-answer state before sending: a
// send failure must never leave the stored state claiming no question
// is in flight when the provider may still deliver it.
func (o *Orchestrator) sendQuestion(ctx context.Context, user store.User, convo store.ConversationState, card store.Flashcard) error {
	cardID := card.ID
	convo.State = store.StateAwaitingAnswer
	convo.CurrentFlashcardID = &cardID
	convo.LastSentFlashcardID = &cardID
	convo.MessageCount++
	convo, err := o.putConversation(ctx, convo)
	if err != nil {
		return err
	}

	withHint := convo.MessageCount%skipHintEvery == 0
	o.send(ctx, user, questionText(card.Concept, withHint), protocol.CardToken(cardID))
	return nil
}

// send delivers one outbound message. Failures are logged and counted,
// never propagated: committed reviews and state are not rolled back
// because delivery misfired.
func (o *Orchestrator) send(ctx context.Context, user store.User, text, token string) {
	receipt, err := o.sender.Send(ctx, user.Phone, text, token)
	if err != nil {
		o.logger.Error("send failed",
			zap.String("user", user.ID),
			zap.String("token", token),
			zap.Error(err))
		o.countSend("failed")
		return
	}
	if !receipt.Delivered {
		o.countSend("dropped")
		return
	}
	o.countSend("ok")
}

func (o *Orchestrator) loadConversation(ctx context.Context, userID string) (store.ConversationState, error) {
	convo, err := o.store.GetConversation(ctx, userID)
	if err == nil {
		return convo, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return store.ConversationState{UserID: userID, State: store.StateIdle}, nil
	}
	return store.ConversationState{}, fmt.Errorf("load conversation: %w", err)
}

// putConversation writes the state under compare-and-swap. Transitions
// run under the per-user lock, so a conflict means the reaper raced
// us; reload the version and retry with backoff rather than dropping
// the transition.
func (o *Orchestrator) putConversation(ctx context.Context, convo store.ConversationState) (store.ConversationState, error) {
	convo.LastActivityAt = o.now()
	expected := convo.Version
	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return store.ConversationState{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, casBackoffBase, casBackoffCap)):
			}
		}

		stored, err := o.store.PutConversation(ctx, convo, expected)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return store.ConversationState{}, fmt.Errorf("store conversation: %w", err)
		}

		lastErr = err
		if o.metrics != nil {
			o.metrics.LockConflicts.Inc()
		}
		current, gerr := o.store.GetConversation(ctx, convo.UserID)
		if gerr != nil && !errors.Is(gerr, store.ErrNotFound) {
			return store.ConversationState{}, fmt.Errorf("reload conversation: %w", gerr)
		}
		expected = current.Version
	}
	return store.ConversationState{}, fmt.Errorf("%w: user %s: %v", ErrConcurrencyConflict, convo.UserID, lastErr)
}

func (o *Orchestrator) countRule(rule string) {
	if o.metrics != nil {
		o.metrics.InboundEvents.WithLabelValues(rule).Inc()
	}
}

func (o *Orchestrator) countSend(outcome string) {
	if o.metrics != nil {
		o.metrics.SendOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countReview(correct bool) {
	if o.metrics == nil {
		return
	}
	result := "incorrect"
	if correct {
		result = "correct"
	}
	o.metrics.ReviewsWritten.WithLabelValues(result).Inc()
}
