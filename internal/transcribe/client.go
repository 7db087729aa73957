// Package transcribe calls the external speech-to-text service. The service
// is asynchronous: audio is published by URL, then status is polled until
// the transcript text is ready for download.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tidewater.systems/callintake/internal/bulkimport"
)

// Transcriber is the capability the pipeline consumes. Implementations must
// be safe to invoke repeatedly for the same audio; the only side effect is
// the returned text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string, diarization bool, provider string) (string, error)
}

type Client struct {
	baseURL string
	http    *http.Client
}

var _ Transcriber = (*Client)(nil)

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type publishResponse struct {
	MediaID       string `json:"media_id"`
	Status        string `json:"status"`
	TranscriptURL string `json:"transcript_url"`
	Reason        string `json:"reason,omitempty"`
}

type statusResponse struct {
	Status        string `json:"status"` // queued | processing | success | failed
	TranscriptURL string `json:"transcript_url"`
	Reason        string `json:"reason,omitempty"`
}

// Transcribe publishes the audio URL and blocks until the transcript text is
// available or ctx expires. The caller bounds the total wait through ctx.
func (c *Client) Transcribe(ctx context.Context, audioURL string, diarization bool, provider string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("%w: transcription service not configured", bulkimport.ErrProvider)
	}

	pub, err := c.publish(ctx, audioURL, diarization, provider)
	if err != nil {
		return "", err
	}

	// The service may already hold a transcript for this audio.
	if pub.TranscriptURL != "" {
		return c.download(ctx, pub.TranscriptURL)
	}

	textURL, err := c.pollUntilDone(ctx, pub.MediaID)
	if err != nil {
		return "", err
	}
	return c.download(ctx, textURL)
}

func (c *Client) publish(ctx context.Context, audioURL string, diarization bool, provider string) (*publishResponse, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	w.WriteField("callRecordingLink", audioURL)
	w.WriteField("provider", provider)
	w.WriteField("diarization", strconv.FormatBool(diarization))
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bulkimport.ErrProvider, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: publish: %v", bulkimport.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: publish returned status %d", bulkimport.ErrProvider, resp.StatusCode)
	}

	var pub publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&pub); err != nil {
		return nil, fmt.Errorf("%w: decode publish response: %v", bulkimport.ErrProvider, err)
	}
	if strings.EqualFold(pub.Status, "failed") {
		return nil, fmt.Errorf("%w: publish rejected: %s", bulkimport.ErrProvider, pub.Reason)
	}
	if pub.MediaID == "" && pub.TranscriptURL == "" {
		return nil, fmt.Errorf("%w: publish response missing media id", bulkimport.ErrProvider)
	}
	return &pub, nil
}

func (c *Client) pollUntilDone(ctx context.Context, mediaID string) (string, error) {
	var textURL string

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = 0 // ctx bounds the total wait

	operation := func() error {
		st, err := c.status(ctx, mediaID)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch strings.ToLower(st.Status) {
		case "success":
			textURL = st.TranscriptURL
			return nil
		case "failed":
			return backoff.Permanent(fmt.Errorf("%w: transcription failed: %s", bulkimport.ErrProvider, st.Reason))
		default:
			return fmt.Errorf("transcription still %s", st.Status)
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	if textURL == "" {
		return "", fmt.Errorf("%w: success without transcript URL", bulkimport.ErrProvider)
	}
	return textURL, nil
}

func (c *Client) status(ctx context.Context, mediaID string) (*statusResponse, error) {
	u := c.baseURL + "/status?media_id=" + url.QueryEscape(mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bulkimport.ErrProvider, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: status: %v", bulkimport.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status returned %d", bulkimport.ErrProvider, resp.StatusCode)
	}

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("%w: decode status response: %v", bulkimport.ErrProvider, err)
	}
	return &st, nil
}

func (c *Client) download(ctx context.Context, textURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, textURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", bulkimport.ErrProvider, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download transcript: %v", bulkimport.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: transcript download returned %d", bulkimport.ErrProvider, resp.StatusCode)
	}

	text, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading transcript: %v", bulkimport.ErrProvider, err)
	}
	return strings.TrimSpace(string(text)), nil
}
