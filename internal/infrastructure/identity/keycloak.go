package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hilthontt/socialbook/internal/infrastructure/configs"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	ErrNotConfigured = errors.New("identity provider admin client is not configured")
	ErrUserNotFound  = errors.New("user not found")
	ErrNoEmail       = errors.New("user has no email address")
)

const defaultTimeout = 10 * time.Second

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// UserDirectory resolves usernames to identity-provider accounts.
type UserDirectory interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
}

// KeycloakClient queries the Keycloak admin API with a client-credentials token.
type KeycloakClient struct {
	baseURL string
	realm   string
	enabled bool
	http    *http.Client
	logger  logging.Logger
}

func NewKeycloakClient(cfg configs.IdentityConfig, logger logging.Logger) *KeycloakClient {
	c := &KeycloakClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		realm:   cfg.Realm,
		enabled: cfg.Enabled(),
		logger:  logger,
	}
	if c.realm == "" {
		c.realm = "socialbook"
	}
	if !c.enabled {
		return c
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     c.baseURL + "/realms/" + url.PathEscape(c.realm) + "/protocol/openid-connect/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	// Token requests run on their own bounded client; the token is cached until it expires.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	c.http = oauth2.NewClient(tokenCtx, cc.TokenSource(tokenCtx))
	c.http.Timeout = timeout

	return c
}

func (c *KeycloakClient) Enabled() bool {
	return c.enabled
}

// FindUserByUsername returns the account whose username matches exactly.
func (c *KeycloakClient) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	if !c.enabled {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(username) == "" {
		return nil, ErrUserNotFound
	}

	endpoint := fmt.Sprintf("%s/admin/realms/%s/users?%s", c.baseURL, url.PathEscape(c.realm), url.Values{
		"username": {username},
		"exact":    {"true"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("lookup user %s: identity provider returned status %d: %s", username, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var users []User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	c.logger.Debug(logging.Identity, logging.LookupUser, "user lookup completed", map[logging.ExtraKey]any{
		logging.TargetUser: username,
		logging.Latency:    time.Since(start).String(),
	})

	for i := range users {
		if users[i].Username == username {
			return &users[i], nil
		}
	}
	return nil, ErrUserNotFound
}

// EmailFor returns the email address registered for username.
func EmailFor(ctx context.Context, dir UserDirectory, username string) (string, error) {
	user, err := dir.FindUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(user.Email) == "" {
		return "", ErrNoEmail
	}
	return user.Email, nil
}
