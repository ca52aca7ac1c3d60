package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/recapz-backend/api/controllers"
	accountcontrollers "github.com/angelmondragon/recapz-backend/api/controllers/accounts"
	jobcontrollers "github.com/angelmondragon/recapz-backend/api/controllers/jobs"
	webhookcontrollers "github.com/angelmondragon/recapz-backend/api/controllers/webhooks"
	"github.com/angelmondragon/recapz-backend/api/middleware"
	"github.com/angelmondragon/recapz-backend/pkg/config"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

// Params holds everything the HTTP surface is wired to.
type Params struct {
	Config        *config.Config
	Logger        *logger.Logger
	Jobs          jobcontrollers.Service
	Credits       accountcontrollers.BalanceReader
	Billing       webhookcontrollers.StripeWebhookService
	StripeSecrets webhookcontrollers.SigningSecretSource
	RateLimiter   middleware.WindowLimiter
	Gatherer      prometheus.Gatherer
	Checks        []controllers.ReadinessCheck
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, logg, p.Checks...))
	})

	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.Billing, p.StripeSecrets, logg))
	})

	var limiter middleware.WindowLimiter
	if cfg.RateLimit.Enabled {
		limiter = p.RateLimiter
	}
	submitPolicy := middleware.NewRateLimitPolicy("jobs-submit", cfg.Jobs.SubmitRateLimit, cfg.Jobs.SubmitRateLimitWindow)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/jobs", func(r chi.Router) {
			r.With(middleware.RateLimit(submitPolicy, limiter, logg)).Post("/", jobcontrollers.SubmitJob(p.Jobs, logg))
			r.Get("/", jobcontrollers.ListJobs(p.Jobs, logg))
			r.Get("/{jobId}", jobcontrollers.GetJob(p.Jobs, logg))
		})

		r.Get("/accounts/me/credits", accountcontrollers.MyCredits(p.Credits, logg))

		r.Route("/summaries", func(r chi.Router) {
			r.Get("/{summaryId}", jobcontrollers.GetSummary(p.Jobs, logg))
			r.Delete("/{summaryId}", jobcontrollers.DeleteSummary(p.Jobs, logg))
		})
	})

	return r
}
