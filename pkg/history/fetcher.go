// Package history wraps the cursor-paginated message history endpoint.
// Pages are server-ordered oldest to newest; the page size is an upper
// bound, and a short or empty page is the exhaustion signal.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/TernFolbaek/anthra-sync/pkg/logger"
	"github.com/TernFolbaek/anthra-sync/pkg/message"
)

// Page is one history response. Messages are ordered oldest to newest.
// NextCursor is the opaque token for "strictly older than this page"; empty
// when the server has no more data.
type Page struct {
	Messages   []message.Message `json:"messages"`
	NextCursor string            `json:"next_cursor"`
}

// FetchError is returned for transport failures and non-2xx responses while
// paging. The caller surfaces a retryable state; there is no automatic retry
// loop here, which keeps a persistently broken endpoint from causing storms.
type FetchError struct {
	Status int
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("history fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("history fetch %s: status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher issues paged history requests for one session. It tracks an
// exhausted flag for the conversation it last served; FetchFirstPage resets
// the flag, so a conversation switch starts fresh.
type Fetcher struct {
	baseURL *url.URL
	client  *http.Client

	mu        sync.Mutex
	exhausted bool
}

// NewFetcher builds a fetcher against the API base URL. The token source
// supplies the bearer credential on every request.
func NewFetcher(baseURL string, ts oauth2.TokenSource, timeout time.Duration) (*Fetcher, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid history base URL: %w", err)
	}

	client := oauth2.NewClient(context.Background(), ts)
	client.Timeout = timeout

	return &Fetcher{
		baseURL: parsed,
		client:  client,
	}, nil
}

// FetchFirstPage requests the newest page of a conversation and resets the
// exhausted flag. A fresh conversation shorter than one page is immediately
// marked exhausted.
func (f *Fetcher) FetchFirstPage(ctx context.Context, key message.ConversationKey, pageSize int) (*Page, error) {
	f.mu.Lock()
	f.exhausted = false
	f.mu.Unlock()

	return f.fetch(ctx, key, "", pageSize)
}

// FetchOlderPage requests the page strictly older than cursor. An empty
// result marks the conversation exhausted; callers must not request again
// until the active conversation changes.
func (f *Fetcher) FetchOlderPage(ctx context.Context, key message.ConversationKey, cursor string, pageSize int) (*Page, error) {
	return f.fetch(ctx, key, cursor, pageSize)
}

// Exhausted reports whether the last served conversation has no more
// history. Monotonic until the next FetchFirstPage.
func (f *Fetcher) Exhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exhausted
}

func (f *Fetcher) fetch(ctx context.Context, key message.ConversationKey, cursor string, pageSize int) (*Page, error) {
	u := *f.baseURL
	u.Path = "/messages/history"
	q := url.Values{}
	q.Set("conversation", key.RoomKey())
	q.Set("page_size", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Status: resp.StatusCode, URL: u.String()}
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}

	if len(page.Messages) < pageSize || page.NextCursor == "" {
		f.mu.Lock()
		f.exhausted = true
		f.mu.Unlock()
	}

	logger.DebugCF("history", "page fetched", map[string]any{
		"conversation": key.RoomKey(),
		"count":        len(page.Messages),
		"exhausted":    f.Exhausted(),
	})

	return &page, nil
}
