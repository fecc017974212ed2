package appointment

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/auth"
)

const maxCommentLength = 1000

type RateRequest struct {
	Score   int
	Comment string
}

// Rate records the acting patient's rating of a completed appointment. The
// one-rating-per-appointment rule is enforced by the store's uniqueness key,
// so concurrent submissions cannot both succeed.
func (s *Service) Rate(ctx context.Context, actor auth.Principal, appointmentID uuid.UUID, req RateRequest) (*Rating, error) {
	if err := requireRole(actor, auth.RolePatient); err != nil {
		return nil, err
	}
	if req.Score < 1 || req.Score > 5 {
		return nil, Invalidf("score must be between 1 and 5")
	}
	comment := strings.TrimSpace(req.Comment)
	if len(comment) > maxCommentLength {
		return nil, Invalidf("comment must be at most %d characters", maxCommentLength)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, StorageError("load appointment", err)
	}
	if appt.PatientID != actor.ID {
		return nil, ErrForbidden
	}
	if appt.Status != StatusCompleted {
		return nil, ErrNotRatable
	}

	r := &Rating{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		PatientID:     actor.ID,
		DoctorID:      appt.DoctorID,
		Score:         req.Score,
		Comment:       comment,
		CreatedAt:     s.now(),
	}
	if err := s.repo.CreateRating(ctx, r); err != nil {
		return nil, StorageError("create rating", err)
	}

	s.metrics.RatingsTotal.Inc()
	s.logEvent(ctx, &appt.ID, nil, EventAppointmentRated, map[string]any{"score": r.Score})
	return r, nil
}

func (s *Service) DoctorRatings(ctx context.Context, doctorID uuid.UUID) (*RatingSummary, error) {
	ratings, err := s.repo.ListRatingsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, StorageError("list ratings", err)
	}

	summary := &RatingSummary{DoctorID: doctorID, Count: len(ratings), Ratings: ratings}
	if len(ratings) > 0 {
		total := 0
		for _, r := range ratings {
			total += r.Score
		}
		summary.Average = float64(total) / float64(len(ratings))
	}
	return summary, nil
}
