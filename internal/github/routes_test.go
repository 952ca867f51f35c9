package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devhabit/devhabit/internal/profiles"
	"github.com/devhabit/devhabit/internal/web"
	"github.com/devhabit/devhabit/pkg/accesstoken"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"
)

type mapUserResolver map[string]string

func (resolver mapUserResolver) UserID(ctx context.Context, identityID string) (string, error) {
	userID, found := resolver[identityID]
	if !found {
		return "", profiles.ErrProfileNotFound
	}
	return userID, nil
}

type stubProfileFetcher struct {
	profile  UserProfile
	err      error
	lastUsed string
}

func (fetcher *stubProfileFetcher) UserProfile(ctx context.Context, accessToken string) (UserProfile, error) {
	fetcher.lastUsed = accessToken
	return fetcher.profile, fetcher.err
}

func newGitHubRouter(t *testing.T, service *Service, fetcher ProfileFetcher, subjectID string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(web.RequestIDMiddleware(), func(contextGin *gin.Context) {
		if subjectID != "" {
			contextGin.Set(accesstoken.DefaultContextKey, &accesstoken.Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: subjectID},
			})
		}
		contextGin.Next()
	})
	MountRoutes(router, mapUserResolver{"identity-1": "u_1"}, service, fetcher, zaptest.NewLogger(t))
	return router
}

func serve(router http.Handler, method string, path string, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestGitHubRoutesTokenLifecycle(t *testing.T) {
	service, _ := newTestService(t)
	fetcher := &stubProfileFetcher{profile: UserProfile{Login: "ada", PublicRepos: 3}}
	router := newGitHubRouter(t, service, fetcher, "identity-1")

	if recorder := serve(router, http.MethodGet, "/github/profile", ""); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before a token is stored, got %d", recorder.Code)
	}

	stored := serve(router, http.MethodPut, "/github/personal-access-token", `{"accessToken":"ghp_secret","expiresInDays":30}`)
	if stored.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", stored.Code, stored.Body.String())
	}

	profile := serve(router, http.MethodGet, "/github/profile", "")
	if profile.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", profile.Code)
	}
	var payload map[string]interface{}
	if err := json.NewDecoder(profile.Body).Decode(&payload); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if payload["login"] != "ada" || payload["publicRepos"] != float64(3) {
		t.Fatalf("unexpected payload %v", payload)
	}
	if fetcher.lastUsed != "ghp_secret" {
		t.Fatalf("expected decrypted token to reach the client, got %q", fetcher.lastUsed)
	}

	if recorder := serve(router, http.MethodDelete, "/github/personal-access-token", ""); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on revoke, got %d", recorder.Code)
	}
	if recorder := serve(router, http.MethodGet, "/github/profile", ""); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after revoke, got %d", recorder.Code)
	}
}

func TestGitHubRoutesRejectInvalidPayloads(t *testing.T) {
	service, _ := newTestService(t)
	router := newGitHubRouter(t, service, &stubProfileFetcher{}, "identity-1")

	testCases := []struct {
		name          string
		body          string
		expectedField string
	}{
		{name: "missing token", body: `{"expiresInDays":30}`, expectedField: "accessToken"},
		{name: "too long", body: `{"accessToken":"ghp","expiresInDays":366}`, expectedField: "expiresInDays"},
		{name: "zero days", body: `{"accessToken":"ghp","expiresInDays":0}`, expectedField: "expiresInDays"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := serve(router, http.MethodPut, "/github/personal-access-token", testCase.body)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", recorder.Code)
			}
			var problem web.Problem
			if err := json.NewDecoder(recorder.Body).Decode(&problem); err != nil {
				t.Fatalf("decode problem: %v", err)
			}
			if problem.Errors[testCase.expectedField] == "" {
				t.Fatalf("expected error for %s, got %v", testCase.expectedField, problem.Errors)
			}
		})
	}
}

func TestGitHubRoutesUserResolution(t *testing.T) {
	service, _ := newTestService(t)

	anonymous := newGitHubRouter(t, service, &stubProfileFetcher{}, "")
	if recorder := serve(anonymous, http.MethodGet, "/github/profile", ""); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims, got %d", recorder.Code)
	}

	unknown := newGitHubRouter(t, service, &stubProfileFetcher{}, "identity-unknown")
	if recorder := serve(unknown, http.MethodDelete, "/github/personal-access-token", ""); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a profile, got %d", recorder.Code)
	}
}

func TestGitHubRoutesUpstreamFailures(t *testing.T) {
	testCases := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{name: "token rejected", err: ErrUpstreamUnauthorized, expectedStatus: http.StatusNotFound},
		{name: "upstream down", err: errors.New("connection refused"), expectedStatus: http.StatusBadGateway},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			service, _ := newTestService(t)
			if err := service.Save(context.Background(), "u_1", "ghp_secret", 10); err != nil {
				t.Fatalf("save: %v", err)
			}
			router := newGitHubRouter(t, service, &stubProfileFetcher{err: testCase.err}, "identity-1")
			if recorder := serve(router, http.MethodGet, "/github/profile", ""); recorder.Code != testCase.expectedStatus {
				t.Fatalf("expected %d, got %d", testCase.expectedStatus, recorder.Code)
			}
		})
	}
}
