package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"smsgate/internal/domain/models"
)

type Request struct {
	Messages []models.Message `json:"messages"`
}

// Response is the optional body of a 2xx reply. Without Results every message
// counts as delivered; Results must otherwise hold one entry per message.
type Response struct {
	Results []bool `json:"results"`
}

// Sender posts each dispatched batch to an HTTP endpoint.
type Sender struct {
	log     *slog.Logger
	client  *http.Client
	url     string
	limiter *rate.Limiter
}

func New(log *slog.Logger, client *http.Client, url string, rps float64, burst int) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	if burst < 1 {
		burst = 1
	}

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	return &Sender{
		log:     log,
		client:  client,
		url:     url,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (s *Sender) Deliver(ctx context.Context, msgs []models.Message) ([]bool, error) {
	const op = "services.webhook.Deliver"

	log := s.log.With(
		slog.String("op", op),
	)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	body, err := json.Marshal(Request{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}

	delivered := make([]bool, len(msgs))
	for i := range delivered {
		delivered[i] = true
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return delivered, nil
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Warn("ignoring unparsable sink response", slog.String("body", string(raw)))
		return delivered, nil
	}
	if out.Results == nil {
		return delivered, nil
	}
	if len(out.Results) != len(msgs) {
		return nil, fmt.Errorf("%s: sink returned %d results for %d messages", op, len(out.Results), len(msgs))
	}

	return out.Results, nil
}
