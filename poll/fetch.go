package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// maxBodyBytes caps how much of a seat response is read.
const maxBodyBytes = 1 << 20

// HTTPStatusError indicates the seat endpoint answered with a non-OK status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsHTTPStatusError checks if an error is an HTTPStatusError.
func IsHTTPStatusError(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr)
}

// seatResponse is the body served by a seat endpoint.
// AvailableSeats is a pointer so that absent and null can be told apart from zero.
type seatResponse struct {
	AvailableSeats *float64 `json:"availableSeats"`
}

// fetch requests the seat endpoint once and returns the reported available seats.
// A response without availableSeats reports the full capacity as available.
func (t *Tracker) fetch(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.event.Endpoint, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := t.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return 0, fmt.Errorf("request seat endpoint: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	t.logger.Debug("HTTP request completed",
		"url", t.event.Endpoint,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return 0, &HTTPStatusError{URL: t.event.Endpoint, StatusCode: resp.StatusCode}
	}

	var body seatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode seat response: %w", err)
	}

	if body.AvailableSeats == nil {
		return t.event.TotalSeats, nil
	}
	available := math.Max(0, math.Min(*body.AvailableSeats, float64(t.event.TotalSeats)))
	return int(math.Round(available)), nil
}
