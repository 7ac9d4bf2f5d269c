package protocol

import "strings"

// Intent detection is deliberately a closed-vocabulary exact match on
// the whole (normalized) message. Substring matching would misfire when
// flashcard content itself contains "yes" or "no".

var affirmativeVocab = map[string]bool{
	"yes":   true,
	"y":     true,
	"yeah":  true,
	"yep":   true,
	"yup":   true,
	"sure":  true,
	"ok":    true,
	"okay":  true,
	"start": true,
	"ready": true,
}

var negativeVocab = map[string]bool{
	"no":      true,
	"n":       true,
	"nope":    true,
	"nah":     true,
	"cancel":  true,
	"discard": true,
}

// CreateCommand is the fixed prefix token that starts the
// draft-a-card sub-flow, e.g. "create the mitochondria is ...".
const CreateCommand = "create"

// SkipToken marks the pending card as missed without grading.
const SkipToken = "skip"

func normalize(body string) string {
	body = strings.ToLower(strings.TrimSpace(body))
	return strings.TrimRight(body, ".!?")
}

// IsAffirmative reports whether the message body is an exact-match
// affirmative.
func IsAffirmative(body string) bool {
	return affirmativeVocab[normalize(body)]
}

// IsNegative reports whether the message body is an exact-match
// negative.
func IsNegative(body string) bool {
	return negativeVocab[normalize(body)]
}

// IsSkip reports whether the message body asks to skip the pending
// card.
func IsSkip(body string) bool {
	return normalize(body) == SkipToken
}

// ParseCreateCommand detects the creation-command prefix and returns
// the free text after it. Matching is case-insensitive; a bare
// "create" with no payload does not count.
func ParseCreateCommand(body string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return "", false
	}
	if !strings.EqualFold(fields[0], CreateCommand) {
		return "", false
	}
	rest := strings.TrimSpace(trimmed[len(fields[0]):])
	return rest, rest != ""
}
