package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/chirp/internal/middleware"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/pagination"
)

const routerTestSecret = "router-secret"

type countingRecorder struct {
	statuses []int
}

func (c *countingRecorder) RecordHTTPStatus(statusCode int) {
	c.statuses = append(c.statuses, statusCode)
}

func createTestRouter(t *testing.T, query *mockQueryService, health HealthChecker) (http.Handler, *countingRecorder) {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), discardLogger())
	t.Cleanup(rl.Stop)

	if query == nil {
		query = &mockQueryService{}
	}
	rec := &countingRecorder{}
	return NewRouter(&RouterDeps{
		Logger:            discardLogger(),
		Auth:              middleware.AuthConfig{Secret: routerTestSecret},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Metrics:           rec,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
		Health:    health,
		Users:     &mockUserService{},
		Graph:     &mockGraphService{},
		Query:     query,
		Tweets:    &mockTweetService{},
		Likes:     &mockLikeService{},
		Bookmarks: &mockBookmarkService{},
		Comments:  &mockCommentService{},
	}), rec
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(routerTestSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return "Bearer " + token
}

func TestNewRouter_PublicRoutes(t *testing.T) {
	router, _ := createTestRouter(t, nil, nil)

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/api/users", `{"name":"A","email":"a@example.com","username":"a"}`, http.StatusCreated},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
	}
}

func TestNewRouter_SignupIsRateLimitedPerIP(t *testing.T) {
	router, _ := createTestRouter(t, nil, nil)
	body := `{"name":"A","email":"a@example.com","username":"a"}`

	// 既定は1分あたり5件
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(body))
		req.RemoteAddr = "198.51.100.20:4000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("request %d: status = %d, want 201", i, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(body))
	req.RemoteAddr = "198.51.100.20:4001"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After ヘッダーが設定されていない")
	}
}

func TestNewRouter_Health_Unavailable(t *testing.T) {
	router, _ := createTestRouter(t, nil, func(ctx context.Context) error {
		return errors.New("db down")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_ProtectedRoutes_RequireAuth(t *testing.T) {
	router, _ := createTestRouter(t, nil, nil)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/users/me"},
		{http.MethodGet, "/api/users/me/feed-token"},
		{http.MethodGet, "/api/users/u-1"},
		{http.MethodGet, "/api/users/u-1/followers"},
		{http.MethodGet, "/api/users/u-1/followings"},
		{http.MethodPut, "/api/users/u-1/follow"},
		{http.MethodDelete, "/api/users/u-1/follow"},
		{http.MethodGet, "/api/users/u-1/tweets"},
		{http.MethodGet, "/api/users/u-1/likes"},
		{http.MethodGet, "/api/timeline"},
		{http.MethodGet, "/api/bookmarks"},
		{http.MethodPost, "/api/tweets"},
		{http.MethodGet, "/api/tweets/t-1"},
		{http.MethodDelete, "/api/tweets/t-1"},
		{http.MethodPut, "/api/tweets/t-1/like"},
		{http.MethodDelete, "/api/tweets/t-1/like"},
		{http.MethodGet, "/api/tweets/t-1/likes"},
		{http.MethodPut, "/api/tweets/t-1/bookmark"},
		{http.MethodDelete, "/api/tweets/t-1/bookmark"},
		{http.MethodGet, "/api/tweets/t-1/comments"},
		{http.MethodPost, "/api/tweets/t-1/comments"},
		{http.MethodDelete, "/api/comments/c-1"},
	}

	for _, rt := range routes {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want %d", rt.method, rt.path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestNewRouter_ProtectedRoutes_WithToken(t *testing.T) {
	router, _ := createTestRouter(t, nil, nil)
	auth := bearer(t, "viewer-1")

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/api/users/me", "", http.StatusOK},
		{http.MethodGet, "/api/users/u-1", "", http.StatusOK},
		{http.MethodPut, "/api/users/u-1/follow", "", http.StatusNoContent},
		{http.MethodGet, "/api/timeline?limit=10", "", http.StatusOK},
		{http.MethodPost, "/api/tweets", `{"text":"hi"}`, http.StatusCreated},
		{http.MethodPut, "/api/tweets/t-1/like", "", http.StatusNoContent},
		{http.MethodPost, "/api/tweets/t-1/comments", `{"text":"yo"}`, http.StatusCreated},
		{http.MethodDelete, "/api/comments/c-1", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		req.Header.Set("Authorization", auth)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d (body %s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestNewRouter_MeTakesPrecedenceOverUserID(t *testing.T) {
	var gotUser string
	router, _ := createTestRouter(t, &mockQueryService{
		userFn: func(ctx context.Context, userID, viewerID string) (*model.ViewableUser, error) {
			gotUser = userID
			return &model.ViewableUser{User: model.User{ID: userID}}, nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", bearer(t, "viewer-1"))
	router.ServeHTTP(httptest.NewRecorder(), req)

	if gotUser != "viewer-1" {
		t.Errorf("user lookup = %q, want viewer-1", gotUser)
	}
}

func TestNewRouter_ViewerComesFromToken(t *testing.T) {
	var gotViewer string
	router, _ := createTestRouter(t, &mockQueryService{
		timelineFn: func(ctx context.Context, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error) {
			gotViewer = viewerID
			return pagination.Paginated[model.ViewableTweet]{Page: []model.ViewableTweet{}}, nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/timeline", nil)
	req.Header.Set("Authorization", bearer(t, "viewer-42"))
	router.ServeHTTP(httptest.NewRecorder(), req)

	if gotViewer != "viewer-42" {
		t.Errorf("viewer = %q, want viewer-42", gotViewer)
	}
}

func TestNewRouter_RecordsStatusAndHeaders(t *testing.T) {
	router, rec := createTestRouter(t, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/timeline", nil))

	if len(rec.statuses) != 1 || rec.statuses[0] != http.StatusUnauthorized {
		t.Errorf("recorded statuses = %v, want [401]", rec.statuses)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewRouter_Preflight(t *testing.T) {
	router, _ := createTestRouter(t, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/tweets", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
