package quiz

import "fmt"

// User-facing message templates. Kept in one place so copy changes do
// not touch the state machine.

const (
	msgNothingDue   = "You're all caught up! No cards are due right now. Text me again later."
	msgCaughtUp     = "That was the last one for now. Nice work, you're all caught up!"
	msgCardMissing  = "Sorry, I couldn't find the card you answered. Let's start fresh: text me when you're ready."
	msgGraderDown   = "Sorry, I couldn't grade that answer right now. Please send it again in a moment."
	msgDrafterDown  = "Sorry, I couldn't turn that into a card right now. Please try again in a moment."
	msgDraftDiscard = "Okay, discarded. Send \"create <your text>\" to try a new card."
	msgDraftUnclear = "Should I save this card? Reply yes or no."
	msgHelp         = "Hi! Reply \"yes\" to start a review session, or \"create <some text>\" to draft a new card."
	msgSkipHint     = "(You can reply \"skip\" if you don't know one.)"
	msgSkipped      = "Skipped. We'll come back to that one sooner."
)

func questionText(concept string, withSkipHint bool) string {
	q := fmt.Sprintf("What does \"%s\" mean?", concept)
	if withSkipHint {
		q += "\n" + msgSkipHint
	}
	return q
}

func draftConfirmText(concept, definition string) string {
	return fmt.Sprintf("Here's your card:\n%s: %s\nSave it? (yes/no)", concept, definition)
}

func draftSavedText(concept string) string {
	return fmt.Sprintf("Saved \"%s\"! It'll show up in your reviews.", concept)
}
