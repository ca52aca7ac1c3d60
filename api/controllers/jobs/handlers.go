package jobs

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/recapz-backend/api/middleware"
	"github.com/angelmondragon/recapz-backend/api/responses"
	"github.com/angelmondragon/recapz-backend/api/validators"
	jobsvc "github.com/angelmondragon/recapz-backend/internal/jobs"
	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/recapz-backend/pkg/errors"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

// Service is the slice of the jobs service the HTTP layer needs.
type Service interface {
	Submit(ctx context.Context, input jobsvc.SubmitInput) (*models.Job, error)
	Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.Job, error)
	List(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Job, error)
	Summary(ctx context.Context, accountID, summaryID uuid.UUID) (*models.Summary, error)
	DeleteSummary(ctx context.Context, accountID, summaryID uuid.UUID) error
}

// SubmitJob reserves credits for a video and queues it. Responds 202.
func SubmitJob(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, svc, logg)
		if !ok {
			return
		}

		var body submitJobRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Submit(r.Context(), jobsvc.SubmitInput{
			AccountID: accountID,
			VideoID:   validators.SanitizeString(body.VideoID, 64),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, newJobView(job))
	}
}

// GetJob returns one of the caller's jobs.
func GetJob(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, svc, logg)
		if !ok {
			return
		}
		jobID, err := pathUUID(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Get(r.Context(), accountID, jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobView(job))
	}
}

// ListJobs returns the caller's most recent jobs.
func ListJobs(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, svc, logg)
		if !ok {
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), accountID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view := jobListView{Jobs: make([]jobView, 0, len(list))}
		for i := range list {
			view.Jobs = append(view.Jobs, newJobView(&list[i]))
		}
		responses.WriteSuccess(w, view)
	}
}

// GetSummary returns a produced summary with segments and takeaways.
func GetSummary(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, svc, logg)
		if !ok {
			return
		}
		summaryID, err := pathUUID(r, "summaryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.Summary(r.Context(), accountID, summaryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSummaryView(summary))
	}
}

// DeleteSummary removes the artifact. Credits already consumed stay consumed.
func DeleteSummary(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, svc, logg)
		if !ok {
			return
		}
		summaryID, err := pathUUID(r, "summaryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeleteSummary(r.Context(), accountID, summaryID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": summaryID, "deleted": true})
	}
}

func requireAccount(w http.ResponseWriter, r *http.Request, svc Service, logg *logger.Logger) (uuid.UUID, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
		return uuid.Nil, false
	}
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
		return uuid.Nil, false
	}
	return accountID, true
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+param).
			WithDetails(map[string]any{"field": param})
	}
	return id, nil
}
