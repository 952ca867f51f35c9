package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com"

const (
	defaultRetryBase  = 200 * time.Millisecond
	defaultMaxRetries = 2
	maxErrorBodyBytes = 512
)

// ErrUpstreamUnauthorized indicates GitHub rejected the token.
var ErrUpstreamUnauthorized = errors.New("github.upstream_unauthorized")

// UserProfile is the subset of the GitHub user resource exposed to clients.
type UserProfile struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatarUrl"`
	Bio         string `json:"bio"`
	PublicRepos int    `json:"publicRepos"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
}

type userResource struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url"`
	Bio         string `json:"bio"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
}

// Client calls the GitHub REST API on behalf of a user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryBase  time.Duration
	maxRetries uint64
}

// NewClient builds a client for baseURL; an empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		retryBase:  defaultRetryBase,
		maxRetries: defaultMaxRetries,
	}
}

// UserProfile fetches the authenticated user's profile. Transport failures and 5xx answers are retried.
func (client *Client) UserProfile(ctx context.Context, accessToken string) (UserProfile, error) {
	authorized := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, client.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)
	backoff := retry.WithMaxRetries(client.maxRetries, retry.NewExponential(client.retryBase))

	resource, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (userResource, error) {
		return client.fetchUser(ctx, authorized)
	})
	if err != nil {
		return UserProfile{}, err
	}
	return UserProfile{
		Login:       resource.Login,
		Name:        resource.Name,
		AvatarURL:   resource.AvatarURL,
		Bio:         resource.Bio,
		PublicRepos: resource.PublicRepos,
		Followers:   resource.Followers,
		Following:   resource.Following,
	}, nil
}

func (client *Client) fetchUser(ctx context.Context, authorized *http.Client) (userResource, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/user", nil)
	if err != nil {
		return userResource{}, fmt.Errorf("github.client.request: %w", err)
	}
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	request.Header.Set("User-Agent", "devhabit")

	response, err := authorized.Do(request)
	if err != nil {
		return userResource{}, retry.RetryableError(fmt.Errorf("github.client.do: %w", err))
	}
	defer func() { _ = response.Body.Close() }()

	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return userResource{}, ErrUpstreamUnauthorized
	case response.StatusCode >= http.StatusInternalServerError:
		return userResource{}, retry.RetryableError(upstreamStatusError(response))
	case response.StatusCode != http.StatusOK:
		return userResource{}, upstreamStatusError(response)
	}

	var resource userResource
	if err := json.NewDecoder(response.Body).Decode(&resource); err != nil {
		return userResource{}, fmt.Errorf("github.client.decode: %w", err)
	}
	return resource, nil
}

func upstreamStatusError(response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	return fmt.Errorf("github.client.status_%d: %s", response.StatusCode, strings.TrimSpace(string(body)))
}
