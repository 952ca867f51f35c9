package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(baseURL string) *Client {
	client := NewClient(baseURL, nil)
	client.retryBase = time.Millisecond
	return client
}

func TestClientUserProfile(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/user" {
			http.NotFound(writer, request)
			return
		}
		if request.Header.Get("Authorization") != "Bearer ghp_secret" {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"login":"ada","name":"Ada Lovelace","avatar_url":"https://example.com/a.png","bio":"math","public_repos":3,"followers":10,"following":2}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	profile, err := client.UserProfile(context.Background(), "ghp_secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := UserProfile{Login: "ada", Name: "Ada Lovelace", AvatarURL: "https://example.com/a.png", Bio: "math", PublicRepos: 3, Followers: 10, Following: 2}
	if profile != expected {
		t.Fatalf("unexpected profile %#v", profile)
	}

	if _, err := client.UserProfile(context.Background(), "ghp_wrong"); !errors.Is(err, ErrUpstreamUnauthorized) {
		t.Fatalf("expected upstream unauthorized, got %v", err)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if attempts.Add(1) < 3 {
			writer.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = writer.Write([]byte(`{"login":"ada"}`))
	}))
	defer server.Close()

	profile, err := newTestClient(server.URL).UserProfile(context.Background(), "ghp_secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Login != "ada" || attempts.Load() != 3 {
		t.Fatalf("expected success on third attempt, got %#v after %d", profile, attempts.Load())
	}
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		attempts.Add(1)
		writer.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).UserProfile(context.Background(), "ghp_secret"); err == nil {
		t.Fatalf("expected error after retries")
	}
	if attempts.Load() != defaultMaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", defaultMaxRetries+1, attempts.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		attempts.Add(1)
		writer.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).UserProfile(context.Background(), "ghp_secret"); err == nil {
		t.Fatalf("expected error for 404")
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts.Load())
	}
}
