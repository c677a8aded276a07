package poscore

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL is the production POS Media Data Core endpoint.
	DefaultBaseURL = "https://pos-core.pos-media.eu/gate/api/v1"

	// DefaultTokenTTL is assumed when a login response carries no expiry.
	DefaultTokenTTL = 3000 * time.Second

	// TokenClockSkew is subtracted from the reported expiry so tokens are
	// refreshed slightly early, avoiding rejections caused by clock drift
	// between this process and the service.
	TokenClockSkew = 30 * time.Second
)

// Credentials owns the authentication lifecycle for a username/password
// pair: it exchanges the pair for a bearer token, caches the token, and
// refreshes it on demand. Safe for use by concurrent callers; the whole
// check-refresh-store path runs under one lock so concurrent callers
// trigger at most one exchange.
type Credentials struct {
	username    string
	password    string
	baseURL     string
	ttlFallback time.Duration
	client      *http.Client
	transport   http.RoundTripper
	now         func() time.Time

	mu           sync.Mutex
	token        string
	refreshToken string
	expiresAt    time.Time
}

// CredentialsOption is a functional option for NewCredentials.
type CredentialsOption func(*Credentials)

// WithBaseURL overrides the API base URL (up to the /account segment).
func WithBaseURL(baseURL string) CredentialsOption {
	return func(c *Credentials) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the http.Client used for authentication exchanges.
func WithHTTPClient(client *http.Client) CredentialsOption {
	return func(c *Credentials) {
		c.client = client
	}
}

// WithTransport sets a transport for authentication exchanges, e.g.
// requests.Record or requests.Replay.
func WithTransport(rt http.RoundTripper) CredentialsOption {
	return func(c *Credentials) {
		c.transport = rt
	}
}

// WithTokenTTLFallback sets how long a token is assumed valid when the
// service does not return an expiry.
func WithTokenTTLFallback(d time.Duration) CredentialsOption {
	return func(c *Credentials) {
		c.ttlFallback = d
	}
}

// NewCredentials creates a credential manager for the given account.
func NewCredentials(username, password string, opts ...CredentialsOption) *Credentials {
	c := &Credentials{
		username:    username,
		password:    password,
		baseURL:     DefaultBaseURL,
		ttlFallback: DefaultTokenTTL,
		client:      &http.Client{Timeout: HTTPRequestTimeout},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c
}

// BaseURL returns the API base URL the credentials authenticate against.
func (c *Credentials) BaseURL() string { return c.baseURL }

// Username returns the account username.
func (c *Credentials) Username() string { return c.username }

// Token returns a currently valid bearer token, authenticating or
// refreshing first if the cached token is missing or about to expire.
// A rejected username/password pair surfaces as *AuthError; transport
// failures are never retried here.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt.Add(-TokenClockSkew)) {
		return c.token, nil
	}

	if c.token != "" && c.refreshToken != "" {
		err := c.refresh(ctx)
		if err == nil {
			return c.token, nil
		}
		if statusOf(err) == nil {
			// Transport-level failure, the refresh token may still be good.
			return "", fmt.Errorf("poscore: token refresh: %w", err)
		}
		// The refresh token was rejected, likely revoked. Fall back to a
		// full login instead of failing the caller.
		log.Printf("poscore: token refresh failed (%v), re-authenticating", err)
	}

	if err := c.login(ctx); err != nil {
		return "", err
	}
	return c.token, nil
}

// AuthorizationHeader returns an Authorization header value carrying a
// currently valid bearer token.
func (c *Credentials) AuthorizationHeader(ctx context.Context) (string, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

// Invalidate marks the cached token expired so the next Token call performs
// a refresh. The client calls this after a 401 response, which means the
// service rejected a token this cache still considered valid.
func (c *Credentials) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiresAt = time.Time{}
}

// accountBuilder returns a fresh requests.Builder for an account endpoint.
func (c *Credentials) accountBuilder(path string) *requests.Builder {
	b := requests.
		URL(c.baseURL + path).
		Client(c.client).
		Accept("application/json").
		AddValidator(statusValidator)
	if c.transport != nil {
		b = b.Transport(c.transport)
	}
	return b
}

// login performs a full username/password exchange.
func (c *Credentials) login(ctx context.Context) error {
	body := struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{c.username, c.password}

	var payload string
	err := c.accountBuilder("/account/login").
		BodyJSON(&body).
		ToString(&payload).
		Fetch(ctx)
	if err != nil {
		if se := statusOf(err); se != nil {
			switch se.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return &AuthError{Username: c.username, Err: se}
			}
			return se
		}
		return fmt.Errorf("poscore: login: %w", err)
	}
	return c.storeTokens(payload)
}

// refresh exchanges the held refresh token for a new access token.
func (c *Credentials) refresh(ctx context.Context) error {
	var payload string
	err := c.accountBuilder("/account/refreshtoken").
		Post().
		BodyBytes([]byte("{}")).
		ContentType("application/json").
		Header("Authorization", "Bearer "+c.token).
		Header("RefreshToken", c.refreshToken).
		ToString(&payload).
		Fetch(ctx)
	if err != nil {
		return err
	}
	return c.storeTokens(payload)
}

// storeTokens parses a login/refresh response and updates the cache.
func (c *Credentials) storeTokens(payload string) error {
	res := gjson.Parse(payload)

	token := res.Get("accessToken").String()
	if token == "" {
		return fmt.Errorf("poscore: login response did not contain an accessToken")
	}
	c.token = token
	c.refreshToken = res.Get("refreshToken").String()
	c.expiresAt = c.expiryFrom(res)
	return nil
}

// expiryFrom extracts the token expiry from a login/refresh response. The
// service has returned expiry both as a duration in seconds and as an
// RFC 3339 timestamp in different deployments, so both shapes are accepted.
func (c *Credentials) expiryFrom(res gjson.Result) time.Time {
	for _, key := range []string{"expires_in", "expiresIn"} {
		if v := res.Get(key); v.Exists() && v.Type == gjson.Number {
			return c.now().Add(time.Duration(v.Float() * float64(time.Second)))
		}
	}
	for _, key := range []string{"expires_at", "expiresAt"} {
		v := res.Get(key)
		if !v.Exists() || v.Type != gjson.String {
			continue
		}
		t, err := time.Parse(time.RFC3339, v.String())
		if err != nil {
			log.Printf("poscore: failed to parse token expiry %q: %v", v.String(), err)
			continue
		}
		return t
	}
	return c.now().Add(c.ttlFallback)
}
