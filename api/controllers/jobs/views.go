package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/enums"
)

type submitJobRequest struct {
	VideoID string `json:"video_id" validate:"required,video_id"`
}

type jobView struct {
	ID               uuid.UUID              `json:"id"`
	VideoID          string                 `json:"video_id"`
	VideoTitle       string                 `json:"video_title,omitempty"`
	DurationSeconds  int                    `json:"duration_seconds"`
	Status           enums.JobStatus        `json:"status"`
	CreditsNeeded    int                    `json:"credits_needed"`
	ReservationState enums.ReservationState `json:"reservation_state"`
	Attempts         int                    `json:"attempts"`
	ErrorClass       *string                `json:"error_class,omitempty"`
	ErrorMessage     *string                `json:"error_message,omitempty"`
	SummaryID        *uuid.UUID             `json:"summary_id,omitempty"`
	QueuedAt         time.Time              `json:"queued_at"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	FinishedAt       *time.Time             `json:"finished_at,omitempty"`
}

func newJobView(job *models.Job) jobView {
	return jobView{
		ID:               job.ID,
		VideoID:          job.VideoID,
		VideoTitle:       job.VideoTitle,
		DurationSeconds:  job.DurationSeconds,
		Status:           job.Status,
		CreditsNeeded:    job.CreditsNeeded,
		ReservationState: job.ReservationState,
		Attempts:         job.Attempts,
		ErrorClass:       job.ErrorClass,
		ErrorMessage:     job.ErrorMessage,
		SummaryID:        job.SummaryID,
		QueuedAt:         job.QueuedAt,
		StartedAt:        job.StartedAt,
		FinishedAt:       job.FinishedAt,
	}
}

type jobListView struct {
	Jobs []jobView `json:"jobs"`
}

type segmentView struct {
	StartSeconds int    `json:"start_seconds"`
	EndSeconds   int    `json:"end_seconds"`
	Heading      string `json:"heading"`
	Body         string `json:"body"`
}

type summaryView struct {
	ID        uuid.UUID     `json:"id"`
	JobID     uuid.UUID     `json:"job_id"`
	VideoID   string        `json:"video_id"`
	Title     string        `json:"title"`
	Model     string        `json:"model"`
	Content   string        `json:"content"`
	Segments  []segmentView `json:"segments"`
	Takeaways []string      `json:"takeaways"`
	CreatedAt time.Time     `json:"created_at"`
}

func newSummaryView(summary *models.Summary) summaryView {
	view := summaryView{
		ID:        summary.ID,
		JobID:     summary.JobID,
		VideoID:   summary.VideoID,
		Title:     summary.Title,
		Model:     summary.Model,
		Content:   summary.Content,
		Segments:  make([]segmentView, 0, len(summary.Segments)),
		Takeaways: make([]string, 0, len(summary.Takeaways)),
		CreatedAt: summary.CreatedAt,
	}
	for _, seg := range summary.Segments {
		view.Segments = append(view.Segments, segmentView{
			StartSeconds: seg.StartSeconds,
			EndSeconds:   seg.EndSeconds,
			Heading:      seg.Heading,
			Body:         seg.Body,
		})
	}
	for _, takeaway := range summary.Takeaways {
		view.Takeaways = append(view.Takeaways, takeaway.Text)
	}
	return view
}
