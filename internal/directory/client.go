// ABOUTME: HTTP client for the external user-directory service using resty
// ABOUTME: Wraps GET /users endpoints with timeouts and a TTL membership cache

package directory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// usersResponse is the JSON body returned by the directory's /users endpoint.
type usersResponse struct {
	UserIDs []string `json:"user_ids"`
}

// Client resolves group membership against the workflow layer's user
// directory over HTTP. Lookups are cached briefly: fan-out tolerates a
// slightly stale member set, the durable log covers anything missed live.
type Client struct {
	http   *resty.Client
	cache  *membershipCache
	logger *slog.Logger
}

// ClientOptions configures a directory Client.
type ClientOptions struct {
	// BaseURL of the user-directory service, e.g. "http://portal:9000".
	BaseURL string
	// Timeout for a single directory request. Zero means 5s.
	Timeout time.Duration
	// CacheTTL for membership lookups. Zero disables caching.
	CacheTTL time.Duration
}

// NewClient creates a directory client. Pass nil logger for default.
func NewClient(opts ClientOptions, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	var cache *membershipCache
	if opts.CacheTTL > 0 {
		cache = newMembershipCache(opts.CacheTTL)
	}

	return &Client{
		http:   httpClient,
		cache:  cache,
		logger: logger.With("component", "directory"),
	}
}

// UserIDsByRole returns the ids of all users carrying the given role.
func (c *Client) UserIDsByRole(ctx context.Context, role string) ([]string, error) {
	return c.lookup(ctx, "role:"+role, func(req *resty.Request) (*resty.Response, error) {
		return req.SetQueryParam("role", role).Get("/users")
	})
}

// AllUserIDs returns the ids of every known user.
func (c *Client) AllUserIDs(ctx context.Context) ([]string, error) {
	return c.lookup(ctx, "all", func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/users")
	})
}

func (c *Client) lookup(ctx context.Context, cacheKey string, do func(*resty.Request) (*resty.Response, error)) ([]string, error) {
	if c.cache != nil {
		if ids, ok := c.cache.get(cacheKey); ok {
			return ids, nil
		}
	}

	var body usersResponse
	req := c.http.R().SetContext(ctx).SetResult(&body)

	resp, err := do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("directory request: status %d", resp.StatusCode())
	}

	if c.cache != nil {
		c.cache.put(cacheKey, body.UserIDs)
	}

	c.logger.Debug("directory lookup",
		"key", cacheKey,
		"count", len(body.UserIDs))
	return body.UserIDs, nil
}

// Close stops the cache's background cleanup, if caching is enabled.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// Ensure Client implements Directory
var _ Directory = (*Client)(nil)
