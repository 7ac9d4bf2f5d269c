package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAssistTimeout = 15 * time.Second

// HTTPGrader forwards grading requests to an external evaluation
// endpoint.
type HTTPGrader struct {
	url    string
	client *http.Client
}

func NewHTTPGrader(url string, timeout time.Duration) *HTTPGrader {
	if timeout <= 0 {
		timeout = defaultAssistTimeout
	}
	return &HTTPGrader{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type gradeRequest struct {
	Concept    string `json:"concept"`
	Definition string `json:"definition"`
	Response   string `json:"response"`
}

func (g *HTTPGrader) Evaluate(ctx context.Context, concept, definition, response string) (Evaluation, error) {
	var eval Evaluation
	err := postJSON(ctx, g.client, g.url, gradeRequest{
		Concept:    concept,
		Definition: definition,
		Response:   response,
	}, &eval)
	if err != nil {
		return Evaluation{}, err
	}
	if eval.Confidence < 0 || eval.Confidence > 1 {
		return Evaluation{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedResult, eval.Confidence)
	}
	return eval, nil
}

// HTTPDrafter forwards free text to an external card-drafting endpoint.
type HTTPDrafter struct {
	url    string
	client *http.Client
}

func NewHTTPDrafter(url string, timeout time.Duration) *HTTPDrafter {
	if timeout <= 0 {
		timeout = defaultAssistTimeout
	}
	return &HTTPDrafter{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type draftRequest struct {
	Text string `json:"text"`
}

func (d *HTTPDrafter) Draft(ctx context.Context, freeText string) (CardDraft, error) {
	var draft CardDraft
	err := postJSON(ctx, d.client, d.url, draftRequest{Text: freeText}, &draft)
	if err != nil {
		return CardDraft{}, err
	}
	if strings.TrimSpace(draft.Concept) == "" || strings.TrimSpace(draft.Definition) == "" {
		return CardDraft{}, fmt.Errorf("%w: draft missing concept or definition", ErrMalformedResult)
	}
	return draft, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("assist http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	return nil
}
