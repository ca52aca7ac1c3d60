package routes

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/recapz-backend/api/controllers"
	"github.com/angelmondragon/recapz-backend/internal/billing"
	"github.com/angelmondragon/recapz-backend/internal/credits"
	jobsvc "github.com/angelmondragon/recapz-backend/internal/jobs"
	pkgAuth "github.com/angelmondragon/recapz-backend/pkg/auth"
	"github.com/angelmondragon/recapz-backend/pkg/config"
	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/enums"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
	"github.com/angelmondragon/recapz-backend/pkg/redis"
)

type stubJobs struct {
	mu      sync.Mutex
	submits int
}

func (s *stubJobs) Submit(ctx context.Context, input jobsvc.SubmitInput) (*models.Job, error) {
	s.mu.Lock()
	s.submits++
	s.mu.Unlock()
	return &models.Job{ID: uuid.New(), AccountID: input.AccountID, VideoID: input.VideoID, Status: enums.JobStatusQueued}, nil
}

func (s *stubJobs) Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.Job, error) {
	return &models.Job{ID: jobID, AccountID: accountID, Status: enums.JobStatusQueued}, nil
}

func (s *stubJobs) List(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Job, error) {
	return nil, nil
}

func (s *stubJobs) Summary(ctx context.Context, accountID, summaryID uuid.UUID) (*models.Summary, error) {
	return &models.Summary{ID: summaryID}, nil
}

func (s *stubJobs) DeleteSummary(ctx context.Context, accountID, summaryID uuid.UUID) error {
	return nil
}

type stubCredits struct{}

func (stubCredits) Balance(ctx context.Context, accountID uuid.UUID) (credits.Balance, error) {
	return credits.Balance{AccountID: accountID, Tier: enums.TierFree, Limit: 60, Available: 60}, nil
}

type stubBilling struct{}

func (stubBilling) HandleEvent(ctx context.Context, event *stripe.Event) (billing.Outcome, error) {
	return billing.Outcome{Key: event.ID}, nil
}

type stubSecrets struct{}

func (stubSecrets) SigningSecret() string { return "whsec_test" }

type memoryLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *memoryLimiter) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (redis.WindowDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[scope]++
	return redis.WindowDecision{Allowed: m.counts[scope] <= limit, Count: m.counts[scope], RetryAfter: window}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:       config.AppConfig{Env: "dev", CORSOrigins: "http://localhost:3000"},
		JWT:       config.JWTConfig{Secret: "secret", Issuer: "recapz-test"},
		RateLimit: config.RateLimitConfig{Enabled: true},
		Jobs:      config.JobsConfig{SubmitRateLimit: 2, SubmitRateLimitWindow: time.Minute},
	}
}

func newTestRouter(t *testing.T, jobs *stubJobs) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "recapz_test_total"}))
	return NewRouter(Params{
		Config:        cfg,
		Logger:        logger.Nop(),
		Jobs:          jobs,
		Credits:       stubCredits{},
		Billing:       stubBilling{},
		StripeSecrets: stubSecrets{},
		RateLimiter:   &memoryLimiter{counts: map[string]int64{}},
		Gatherer:      reg,
		Checks: []controllers.ReadinessCheck{
			{Name: "db", Ping: func(context.Context) error { return nil }},
		},
	}), cfg
}

func bearer(t *testing.T, cfg *config.Config, accountID uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), time.Hour, pkgAuth.AccessTokenPayload{AccountID: accountID})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router, _ := newTestRouter(t, &stubJobs{})

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "recapz_test_total") {
		t.Fatalf("metrics output missing registered counter")
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	router, _ := newTestRouter(t, &stubJobs{})

	paths := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/jobs"},
		{http.MethodGet, "/api/v1/jobs"},
		{http.MethodGet, "/api/v1/jobs/" + uuid.NewString()},
		{http.MethodGet, "/api/v1/accounts/me/credits"},
		{http.MethodGet, "/api/v1/summaries/" + uuid.NewString()},
		{http.MethodDelete, "/api/v1/summaries/" + uuid.NewString()},
	}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 got %d", p.method, p.path, rec.Code)
		}
	}
}

func TestAuthenticatedRoutes(t *testing.T) {
	router, cfg := newTestRouter(t, &stubJobs{})
	auth := bearer(t, cfg, uuid.New())

	cases := []struct {
		method, path string
		body         string
		want         int
	}{
		{http.MethodPost, "/api/v1/jobs", `{"video_id":"dQw4w9WgXcQ"}`, http.StatusAccepted},
		{http.MethodGet, "/api/v1/jobs", "", http.StatusOK},
		{http.MethodGet, "/api/v1/jobs/" + uuid.NewString(), "", http.StatusOK},
		{http.MethodGet, "/api/v1/accounts/me/credits", "", http.StatusOK},
		{http.MethodGet, "/api/v1/summaries/" + uuid.NewString(), "", http.StatusOK},
		{http.MethodDelete, "/api/v1/summaries/" + uuid.NewString(), "", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
		req.Header.Set("Authorization", auth)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d got %d (%s)", tc.method, tc.path, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestSubmitIsRateLimitedPerAccount(t *testing.T) {
	jobs := &stubJobs{}
	router, cfg := newTestRouter(t, jobs)
	auth := bearer(t, cfg, uuid.New())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(`{"video_id":"dQw4w9WgXcQ"}`))
		req.Header.Set("Authorization", auth)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if fmt.Sprint(codes) != fmt.Sprint([]int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}) {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if jobs.submits != 2 {
		t.Fatalf("expected 2 submits reached the service, got %d", jobs.submits)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Authorization", auth)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reads should not be rate limited, got %d", rec.Code)
	}
}

func TestStripeWebhookRouteIsUnauthenticated(t *testing.T) {
	router, _ := newTestRouter(t, &stubJobs{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature got %d", rec.Code)
	}
}
