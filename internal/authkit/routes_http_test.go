package authkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devhabit/devhabit/internal/web"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newAuthRouter(t *testing.T, authenticator Authenticator, logger *zap.Logger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(web.RequestIDMiddleware())
	MountAuthRoutes(router, authenticator, logger)
	return router
}

func postJSON(t *testing.T, router http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	switch typed := payload.(type) {
	case string:
		body.WriteString(typed)
	default:
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	request := httptest.NewRequest(http.MethodPost, path, &body)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeTokens(t *testing.T, recorder *httptest.ResponseRecorder) AccessTokens {
	t.Helper()
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var tokens AccessTokens
	if err := json.NewDecoder(recorder.Body).Decode(&tokens); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %#v", tokens)
	}
	return tokens
}

func decodeProblem(t *testing.T, recorder *httptest.ResponseRecorder) web.Problem {
	t.Helper()
	var problem web.Problem
	if err := json.NewDecoder(recorder.Body).Decode(&problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	return problem
}

func TestHTTPAuthLifecycleEndToEnd(t *testing.T) {
	harness := newServiceHarness(t, nil)
	router := newAuthRouter(t, harness.service, zaptest.NewLogger(t))

	registered := decodeTokens(t, postJSON(t, router, "/auth/register", map[string]string{
		"email":    "ada@example.com",
		"name":     "ada",
		"password": testPassword,
	}))

	duplicate := postJSON(t, router, "/auth/register", map[string]string{
		"email":    "ada@example.com",
		"name":     "someone",
		"password": testPassword,
	})
	if duplicate.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", duplicate.Code)
	}
	problem := decodeProblem(t, duplicate)
	if problem.Status != http.StatusBadRequest || problem.RequestID == "" || problem.Errors["DuplicateEmail"] == "" {
		t.Fatalf("unexpected problem body %#v", problem)
	}

	loggedIn := decodeTokens(t, postJSON(t, router, "/auth/login", map[string]string{
		"email":    "ada@example.com",
		"password": testPassword,
	}))
	if loggedIn.RefreshToken == registered.RefreshToken {
		t.Fatalf("login must issue a new refresh token")
	}

	badLogin := postJSON(t, router, "/auth/login", map[string]string{
		"email":    "ada@example.com",
		"password": "Wr0ng!Pass",
	})
	if badLogin.Code != http.StatusUnauthorized || badLogin.Body.Len() != 0 {
		t.Fatalf("expected empty 401, got %d %q", badLogin.Code, badLogin.Body.String())
	}

	refreshed := decodeTokens(t, postJSON(t, router, "/auth/refresh", map[string]string{
		"refreshToken": registered.RefreshToken,
	}))
	if refreshed.RefreshToken == registered.RefreshToken {
		t.Fatalf("refresh must rotate the token")
	}

	replayed := postJSON(t, router, "/auth/refresh", map[string]string{
		"refreshToken": registered.RefreshToken,
	})
	if replayed.Code != http.StatusUnauthorized || replayed.Body.Len() != 0 {
		t.Fatalf("expected empty 401 on replay, got %d %q", replayed.Code, replayed.Body.String())
	}
}

func TestHTTPAuthBindingFailures(t *testing.T) {
	harness := newServiceHarness(t, nil)
	router := newAuthRouter(t, harness.service, zaptest.NewLogger(t))

	testCases := []struct {
		name          string
		path          string
		payload       interface{}
		expectedField string
	}{
		{name: "register missing password", path: "/auth/register", payload: map[string]string{"email": "ada@example.com", "name": "ada"}, expectedField: "password"},
		{name: "register malformed", path: "/auth/register", payload: `{"email":`, expectedField: "body"},
		{name: "login missing email", path: "/auth/login", payload: map[string]string{"password": testPassword}, expectedField: "email"},
		{name: "refresh missing token", path: "/auth/refresh", payload: map[string]string{}, expectedField: "refreshToken"},
		{name: "refresh wrong type", path: "/auth/refresh", payload: `{"refreshToken":42}`, expectedField: "refreshToken"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := postJSON(t, router, testCase.path, testCase.payload)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", recorder.Code)
			}
			problem := decodeProblem(t, recorder)
			if problem.Errors[testCase.expectedField] == "" {
				t.Fatalf("expected error for %s, got %v", testCase.expectedField, problem.Errors)
			}
		})
	}
}

func TestHTTPRegisterValidationProblem(t *testing.T) {
	harness := newServiceHarness(t, nil)
	router := newAuthRouter(t, harness.service, zaptest.NewLogger(t))

	recorder := postJSON(t, router, "/auth/register", map[string]string{
		"email":    "not-an-email",
		"name":     "ada",
		"password": "short",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	problem := decodeProblem(t, recorder)
	if problem.Title != registrationProblemTitle {
		t.Fatalf("unexpected title %q", problem.Title)
	}
	for _, code := range []string{"InvalidEmail", "PasswordTooShort"} {
		if problem.Errors[code] == "" {
			t.Fatalf("expected %s in %v", code, problem.Errors)
		}
	}
}

type stubAuthenticator struct {
	err error
}

func (authenticator stubAuthenticator) Register(ctx context.Context, request RegisterRequest) (AccessTokens, error) {
	return AccessTokens{}, authenticator.err
}

func (authenticator stubAuthenticator) Login(ctx context.Context, request LoginRequest) (AccessTokens, error) {
	return AccessTokens{}, authenticator.err
}

func (authenticator stubAuthenticator) Refresh(ctx context.Context, request RefreshRequest) (AccessTokens, error) {
	return AccessTokens{}, authenticator.err
}

func TestHTTPInfrastructureFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	router := newAuthRouter(t, stubAuthenticator{err: errors.New("database unavailable")}, zap.New(core))

	requests := []struct {
		path    string
		payload map[string]string
	}{
		{path: "/auth/register", payload: map[string]string{"email": "ada@example.com", "name": "ada", "password": testPassword}},
		{path: "/auth/login", payload: map[string]string{"email": "ada@example.com", "password": testPassword}},
		{path: "/auth/refresh", payload: map[string]string{"refreshToken": "value"}},
	}
	for _, request := range requests {
		recorder := postJSON(t, router, request.path, request.payload)
		if recorder.Code != http.StatusInternalServerError || recorder.Body.Len() != 0 {
			t.Fatalf("%s: expected empty 500, got %d %q", request.path, recorder.Code, recorder.Body.String())
		}
	}
	for _, code := range []string{"auth.register.failure", "auth.login.failure", "auth.refresh.failure"} {
		if logs.FilterField(zap.String("code", code)).Len() != 1 {
			t.Fatalf("expected one %s log entry", code)
		}
	}
}
