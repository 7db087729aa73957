// Package discovery lists and fetches candidate audio files from an external
// source folder URL. Sources answer either with a JSON listing or with a
// plain HTML index page; both shapes are handled.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"tidewater.systems/callintake/internal/bulkimport"
)

type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// jsonEntry tolerates the field spellings seen across source backends.
type jsonEntry struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	FileID      string `json:"file_id"`
	URL         string `json:"url"`
	DownloadURL string `json:"download_url"`
}

type jsonListing struct {
	Files []jsonEntry `json:"files"`
}

var hrefRe = regexp.MustCompile(`href="([^"]+)"`)

// AudioExtensions are the container formats accepted from a source listing.
var AudioExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".aac", ".wma"}

func hasAudioExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range AudioExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// List fetches the raw discovery listing for a source folder. A reachable
// but empty source returns an empty slice and no error; unreachable sources
// (network failure, auth walls, server errors) wrap ErrSourceUnavailable so
// the caller can distinguish the two.
func (c *Client) List(ctx context.Context, sourceURL string) ([]bulkimport.DiscoveredEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid source url: %v", bulkimport.ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json, text/html")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bulkimport.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: source returned status %d", bulkimport.ErrSourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading listing: %v", bulkimport.ErrSourceUnavailable, err)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return parseJSONListing(sourceURL, body)
	}
	return parseHTMLListing(sourceURL, body)
}

func parseJSONListing(sourceURL string, body []byte) ([]bulkimport.DiscoveredEntry, error) {
	var raw []jsonEntry
	if err := json.Unmarshal(body, &raw); err != nil {
		var wrapped jsonListing
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("%w: malformed JSON listing: %v", bulkimport.ErrSourceUnavailable, err)
		}
		raw = wrapped.Files
	}

	var entries []bulkimport.DiscoveredEntry
	for _, e := range raw {
		entry := bulkimport.DiscoveredEntry{Name: e.Name}
		entry.FileID = e.FileID
		if entry.FileID == "" {
			entry.FileID = e.ID
		}
		entry.URL = e.DownloadURL
		if entry.URL == "" {
			entry.URL = e.URL
		}
		if entry.URL == "" && entry.FileID != "" {
			// Id-only listings download through the source itself.
			entry.URL = joinURL(sourceURL, "files/"+url.PathEscape(entry.FileID))
		}
		if entry.Name == "" && entry.URL != "" {
			entry.Name = baseName(entry.URL)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseHTMLListing(sourceURL string, body []byte) ([]bulkimport.DiscoveredEntry, error) {
	var entries []bulkimport.DiscoveredEntry
	for _, m := range hrefRe.FindAllStringSubmatch(string(body), -1) {
		href := m[1]
		if !hasAudioExtension(href) {
			continue
		}
		resolved := joinURL(sourceURL, href)
		entries = append(entries, bulkimport.DiscoveredEntry{
			Name: baseName(href),
			URL:  resolved,
		})
	}
	return entries, nil
}

func joinURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func baseName(raw string) string {
	u, err := url.Parse(raw)
	path := raw
	if err == nil {
		path = u.Path
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		return unescaped
	}
	return path
}

// Fetch downloads the bytes behind one discovered entry.
func (c *Client) Fetch(ctx context.Context, entry bulkimport.DiscoveredEntry) ([]byte, error) {
	if strings.TrimSpace(entry.URL) == "" {
		return nil, fmt.Errorf("%w: entry %q has no download URL", bulkimport.ErrSourceUnavailable, entry.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bulkimport.ErrSourceUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bulkimport.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download returned status %d", bulkimport.ErrSourceUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", bulkimport.ErrSourceUnavailable, err)
	}
	return data, nil
}
