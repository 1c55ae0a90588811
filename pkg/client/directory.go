package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aeolun/convosync/pkg/protocol"
)

const (
	// DefaultAPIBase is the conversation REST API root.
	DefaultAPIBase = "http://localhost:8080/api"

	// DefaultDirectoryTTL bounds how long an unsignalled cache entry lives.
	DefaultDirectoryTTL = 2 * time.Minute

	maxAPIResponse = 4 * 1024 * 1024
)

var (
	ErrNotFound    = errors.New("not found")
	ErrAPIRequest  = errors.New("api request failed")
	ErrBadResponse = errors.New("unexpected api response")
)

// DirectoryOptions configures a Directory.
type DirectoryOptions struct {
	BaseURL string
	Token   string
	APIKey  string
	// HTTPClient defaults to a client with a 10 s timeout.
	HTTPClient *http.Client
	// RequestsPerSecond and Burst bound outgoing API calls. Zero means 5/s, burst 10.
	RequestsPerSecond float64
	Burst             int
	TTL               time.Duration
	Logger            *log.Logger
}

type cachedConversation struct {
	payload   *protocol.ConversationPayload
	fetchedAt time.Time
}

type cachedList struct {
	items     []protocol.ConversationPayload
	fetchedAt time.Time
}

// Directory is the conversation metadata cache backed by the REST API.
// Engine signals drop entries; the next lookup refetches.
type Directory struct {
	base    *url.URL
	token   string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	ttl     time.Duration
	logger  *log.Logger
	now     func() time.Time

	mu    sync.Mutex
	convs map[string]cachedConversation
	lists map[string]cachedList
}

// NewDirectory creates a directory client.
func NewDirectory(opts DirectoryOptions) (*Directory, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultAPIBase
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base %q: scheme must be http or https", raw)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 10
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultDirectoryTTL
	}

	return &Directory{
		base:    base,
		token:   opts.Token,
		apiKey:  opts.APIKey,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		ttl:     ttl,
		logger:  opts.Logger,
		now:     time.Now,
		convs:   make(map[string]cachedConversation),
		lists:   make(map[string]cachedList),
	}, nil
}

// SetLogger sets a logger for directory events
func (d *Directory) SetLogger(logger *log.Logger) {
	d.logger = logger
}

func (d *Directory) logf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

// Conversation returns the conversation record, from cache when fresh.
func (d *Directory) Conversation(ctx context.Context, id string) (*protocol.ConversationPayload, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation: %w", ErrNotFound)
	}

	d.mu.Lock()
	if c, ok := d.convs[id]; ok && d.now().Sub(c.fetchedAt) < d.ttl {
		d.mu.Unlock()
		return c.payload, nil
	}
	d.mu.Unlock()

	var conv protocol.ConversationPayload
	if err := d.do(ctx, http.MethodGet, "/conversation/by-id/"+url.PathEscape(id), &conv); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}

	d.mu.Lock()
	d.convs[id] = cachedConversation{payload: &conv, fetchedAt: d.now()}
	d.mu.Unlock()
	return &conv, nil
}

// Conversations returns every conversation userID takes part in.
func (d *Directory) Conversations(ctx context.Context, userID string) ([]protocol.ConversationPayload, error) {
	d.mu.Lock()
	if l, ok := d.lists[userID]; ok && d.now().Sub(l.fetchedAt) < d.ttl {
		d.mu.Unlock()
		return l.items, nil
	}
	d.mu.Unlock()

	var list []protocol.ConversationPayload
	if err := d.do(ctx, http.MethodGet, "/conversation/by-userId/"+url.PathEscape(userID), &list); err != nil {
		return nil, fmt.Errorf("conversations for %s: %w", userID, err)
	}

	d.mu.Lock()
	d.lists[userID] = cachedList{items: list, fetchedAt: d.now()}
	d.mu.Unlock()
	return list, nil
}

// Messages fetches a conversation's history. History is never cached.
func (d *Directory) Messages(ctx context.Context, conversationID string) ([]protocol.Envelope, error) {
	var msgs []protocol.Envelope
	if err := d.do(ctx, http.MethodGet, "/conversation/message/by-id/"+url.PathEscape(conversationID), &msgs); err != nil {
		return nil, fmt.Errorf("messages for %s: %w", conversationID, err)
	}
	return msgs, nil
}

// RemoveMember removes userID from a group and drops the cached record.
func (d *Directory) RemoveMember(ctx context.Context, conversationID, userID string) error {
	path := fmt.Sprintf("/conversation/group/%s/remove-member/%s", url.PathEscape(conversationID), url.PathEscape(userID))
	if err := d.do(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("remove %s from %s: %w", userID, conversationID, err)
	}
	d.Invalidate(conversationID)
	d.InvalidateList()
	return nil
}

// Invalidate drops the cached record for one conversation.
func (d *Directory) Invalidate(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.convs[conversationID]; ok {
		d.logf("Directory: invalidated conversation %s", conversationID)
	}
	delete(d.convs, conversationID)
}

// InvalidateList drops every cached conversation list.
func (d *Directory) InvalidateList() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lists = make(map[string]cachedList)
}

// Cached reports whether a fresh record for id is held.
func (d *Directory) Cached(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[conversationID]
	return ok && d.now().Sub(c.fetchedAt) < d.ttl
}

// do performs one API call and decodes the unwrapped data member into out.
func (d *Directory) do(ctx context.Context, method, path string, out interface{}) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := d.base.String() + path
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader("{}")
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	if d.apiKey != "" {
		req.Header.Set(apiKeyHeader, d.apiKey)
	}

	start := d.now()
	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponse))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrAPIRequest, err)
	}
	d.logf("Directory: %s %s -> %d (%v)", method, path, resp.StatusCode, d.now().Sub(start))

	// Only object bodies can carry the status wrapper. Arrays, plain text
	// and objects whose fields don't fit it are judged on the HTTP status.
	var wrapper protocol.APIResponse
	if body := bytes.TrimSpace(raw); len(body) > 0 && body[0] == '{' {
		if err := json.Unmarshal(body, &wrapper); err != nil {
			wrapper = protocol.APIResponse{}
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || wrapper.Status == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400 || wrapper.Status >= 400:
		msg := wrapper.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: %d %s", ErrAPIRequest, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	data, err := protocol.UnwrapAPIResponse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}
