// Package analysis turns call transcripts into category, call type, and
// objection data. The primary engine is an external service; when it is
// unreachable a local keyword heuristic produces tagged, lower-trust output.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tidewater.systems/callintake/internal/bulkimport"
)

// ErrUnavailable means the primary engine could not be reached at all, as
// opposed to reachable-but-failed. Only unavailability triggers the
// heuristic fallback.
var ErrUnavailable = errors.New("analysis engine unavailable")

// Objection is one detected objection, positionally referenced by Overcome.
type Objection struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Segment    string  `json:"segment,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Overcome references its objection by index into the Objections slice; -1
// means no specific objection (the overcome is kept as an orphan).
type Overcome struct {
	ObjectionIndex int     `json:"objection_index"`
	Method         string  `json:"method"`
	Quote          string  `json:"quote,omitempty"`
	Confidence     float64 `json:"confidence"`
}

type Result struct {
	Category          string      `json:"category"`
	CallType          string      `json:"call_type"`
	Confidence        float64     `json:"confidence"`
	Notes             string      `json:"notes"`
	ConsultScheduled  bool        `json:"consult_scheduled"`
	ObjectionDetected bool        `json:"objection_detected"`
	Objections        []Objection `json:"objections"`
	Overcomes         []Overcome  `json:"overcomes"`
}

// Engine is the capability the pipeline consumes.
type Engine interface {
	Analyze(ctx context.Context, transcript, customerContext string) (*Result, error)
}

type Client struct {
	baseURL string
	http    *http.Client
}

var _ Engine = (*Client)(nil)

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type analyzeRequest struct {
	Transcript      string `json:"transcript"`
	CustomerContext string `json:"customer_context"`
}

func (c *Client) Analyze(ctx context.Context, transcript, customerContext string) (*Result, error) {
	if c.baseURL == "" {
		return nil, ErrUnavailable
	}

	body, err := json.Marshal(analyzeRequest{Transcript: transcript, CustomerContext: customerContext})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", bulkimport.ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bulkimport.ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: engine returned status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: engine returned status %d", bulkimport.ErrProvider, resp.StatusCode)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", bulkimport.ErrProvider, err)
	}
	return &res, nil
}
