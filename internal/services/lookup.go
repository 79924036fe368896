package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ad/go-telegram-tutor/internal/log"
	"github.com/ad/go-telegram-tutor/internal/models"
)

const DefaultGitHubAPIURL = "https://api.github.com"

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidLogin    = errors.New("invalid login")
	// ErrLookupThrottled is returned when attempts come faster than the
	// local limit allows. The caller may try again later.
	ErrLookupThrottled = errors.New("too many connection tests, try again in a moment")
)

// LookupError is an unexpected response from the remote service.
type LookupError struct {
	Status int
	Err    error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lookup failed: %v", e.Err)
	}
	return fmt.Sprintf("lookup failed with status %d", e.Status)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Lookup performs a single read-only profile lookup. Implementations never
// retry; every call is an independent attempt.
type Lookup interface {
	Attempt(ctx context.Context, identifier string) (*models.Profile, error)
}

type GitHubLookupConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	// Limiter bounds attempts across all learners.
	Limiter *rate.Limiter
	Logger  logrus.FieldLogger
}

func (c *GitHubLookupConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultGitHubAPIURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Limiter == nil {
		c.Limiter = rate.NewLimiter(rate.Every(time.Second), 5)
	}
	c.Logger = log.For(c.Logger, "services.GitHubLookup")
}

// GitHubLookup checks that a GitHub user exists.
type GitHubLookup struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  logrus.FieldLogger
}

func NewGitHubLookup(cfg GitHubLookupConfig) *GitHubLookup {
	cfg.defaults()
	return &GitHubLookup{
		baseURL: cfg.BaseURL,
		client:  cfg.HTTPClient,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
	}
}

var githubLogin = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9]){0,38}$`)

type githubUser struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url"`
	PublicRepos int    `json:"public_repos"`
}

func (g *GitHubLookup) Attempt(ctx context.Context, identifier string) (*models.Profile, error) {
	login := strings.TrimPrefix(strings.TrimSpace(identifier), "@")
	if !githubLogin.MatchString(login) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogin, identifier)
	}
	if !g.limiter.Allow() {
		return nil, ErrLookupThrottled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/users/"+url.PathEscape(login), nil)
	if err != nil {
		return nil, &LookupError{Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &LookupError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, login)
	case resp.StatusCode != http.StatusOK:
		return nil, &LookupError{Status: resp.StatusCode}
	}

	var u githubUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, &LookupError{Status: resp.StatusCode, Err: fmt.Errorf("could not decode profile: %w", err)}
	}

	g.logger.Debugf("Found GitHub user %s (%d)", u.Login, u.ID)
	return &models.Profile{
		ID:          u.ID,
		Login:       u.Login,
		DisplayName: u.Name,
		AvatarURL:   u.AvatarURL,
		PublicRepos: u.PublicRepos,
	}, nil
}
