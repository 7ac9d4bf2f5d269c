package assist

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// MockGrader provides deterministic local grading when no external
// grader is configured. It scores by word overlap between the response
// and the definition, which is crude but stable enough for dev loops
// and tests.
type MockGrader struct{}

func NewMockGrader() *MockGrader { return &MockGrader{} }

func (g *MockGrader) Evaluate(ctx context.Context, concept, definition, response string) (Evaluation, error) {
	select {
	case <-ctx.Done():
		return Evaluation{}, ctx.Err()
	default:
	}

	overlap := wordOverlap(definition, response)
	correct := overlap >= 0.5
	feedback := fmt.Sprintf("Not quite. %s: %s", concept, definition)
	if correct {
		feedback = fmt.Sprintf("Correct! %s: %s", concept, definition)
	}
	return Evaluation{
		Correct:    correct,
		Confidence: overlap,
		Feedback:   feedback,
	}, nil
}

func wordOverlap(definition, response string) float64 {
	defWords := contentWords(definition)
	if len(defWords) == 0 {
		return 0
	}
	respWords := make(map[string]bool)
	for _, w := range contentWords(response) {
		respWords[w] = true
	}
	hits := 0
	for _, w := range defWords {
		if respWords[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(defWords))
}

func contentWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, w := range fields {
		if len(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

// MockDrafter splits free text into a concept/definition pair on the
// first copula-like separator; it keeps the draft flow usable without
// the external drafting service.
type MockDrafter struct{}

func NewMockDrafter() *MockDrafter { return &MockDrafter{} }

var draftSeparators = []string{" is ", " are ", " means ", ": ", " - "}

func (d *MockDrafter) Draft(ctx context.Context, freeText string) (CardDraft, error) {
	select {
	case <-ctx.Done():
		return CardDraft{}, ctx.Err()
	default:
	}

	text := strings.TrimSpace(freeText)
	if text == "" {
		return CardDraft{}, fmt.Errorf("%w: empty draft text", ErrMalformedResult)
	}

	for _, sep := range draftSeparators {
		if idx := strings.Index(strings.ToLower(text), sep); idx > 0 {
			concept := strings.TrimSpace(text[:idx])
			definition := strings.TrimSpace(text[idx+len(sep):])
			if concept != "" && definition != "" {
				return CardDraft{Concept: concept, Definition: definition}, nil
			}
		}
	}

	// No separator: first few words become the concept.
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return CardDraft{}, fmt.Errorf("%w: draft text too short", ErrMalformedResult)
	}
	n := 3
	if len(fields) < n+1 {
		n = 1
	}
	return CardDraft{
		Concept:    strings.Join(fields[:n], " "),
		Definition: strings.Join(fields[n:], " "),
	}, nil
}
