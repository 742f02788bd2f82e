package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/handlers/callerctx"
	"github.com/nkiryanov/examaccess/internal/handlers/render"
	"github.com/nkiryanov/examaccess/internal/logger"
	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/service/gateway"
)

type examResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func newExamResponse(e models.Exam) examResponse {
	return examResponse{ID: e.ID, Title: e.Title, StartTime: e.StartTime.UTC(), EndTime: e.EndTime.UTC()}
}

func handleGenerateToken(gw tokenGateway, l logger.Logger) http.HandlerFunc {
	type GenerateRequest struct {
		StudentID    int64 `json:"student_id" validate:"required,gte=1"`
		ValidMinutes int   `json:"valid_minutes" validate:"required,gte=1,lte=1440"`
		Regenerate   bool  `json:"regenerate"`
	}
	type GenerateResponse struct {
		Token      string    `json:"token"`
		ValidUntil time.Time `json:"valid_until"`
		Message    string    `json:"message"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		examID, ok := examIDFromPath(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[GenerateRequest](w, r)
		if err != nil {
			return
		}

		issued, err := gw.Issue(r.Context(), caller(r), gateway.IssueRequest{
			ExamID:       examID,
			SubjectID:    data.StudentID,
			ValidMinutes: data.ValidMinutes,
			Regenerate:   data.Regenerate,
		})
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrExamNotFound):
				render.ServiceError(w, "Exam not found", http.StatusNotFound)
			case errors.Is(err, apperrors.ErrInvalidReference):
				render.ServiceError(w, "Invalid exam or student", http.StatusBadRequest)
			case errors.Is(err, apperrors.ErrActiveTokenExists):
				render.ServiceError(w, "Token already exists for this student and exam", http.StatusConflict)
			default:
				serviceError(w, err, l)
			}
			return
		}

		render.Created(w, GenerateResponse{
			Token:      issued.Token.Secret,
			ValidUntil: issued.Token.ValidUntil,
			Message:    "Token generated successfully",
		})
	}
}

func handleAccess(gw tokenGateway, l logger.Logger) http.HandlerFunc {
	type Exam struct {
		Title     string    `json:"title"`
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
	}
	type Student struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	type AccessResponse struct {
		Exam    Exam    `json:"exam"`
		Student Student `json:"student"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")

		redemption, err := gw.Redeem(r.Context(), r.PathValue("token"))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrInvalidToken):
				render.ServiceError(w, "Invalid token", http.StatusForbidden)
			case errors.Is(err, apperrors.ErrTokenAlreadyUsed):
				render.ServiceError(w, "Token already used", http.StatusForbidden)
			case errors.Is(err, apperrors.ErrTokenExpired):
				render.ServiceError(w, "This access link has expired", http.StatusForbidden)
			default:
				serviceError(w, err, l)
			}
			return
		}

		exam := redemption.Exam
		render.JSON(w, AccessResponse{
			Exam:    Exam{Title: exam.Title, StartTime: exam.StartTime.UTC(), EndTime: exam.EndTime.UTC()},
			Student: Student{Name: redemption.Subject.DisplayName(), Email: redemption.Subject.Email},
		})
	}
}

func handleListTokens(gw tokenGateway, l logger.Logger) http.HandlerFunc {
	type Token struct {
		ID           uuid.UUID  `json:"id"`
		Token        string     `json:"token"`
		StudentName  string     `json:"student_name"`
		StudentEmail string     `json:"student_email"`
		IsUsed       bool       `json:"is_used"`
		IsExpired    bool       `json:"is_expired"`
		IsValid      bool       `json:"is_valid"`
		Status       string     `json:"status"`
		IssuedAt     time.Time  `json:"created_at"`
		ValidUntil   time.Time  `json:"valid_until"`
		UsedAt       *time.Time `json:"used_at"`
	}
	type Statistics struct {
		Total   int `json:"total_count"`
		Used    int `json:"used_count"`
		Expired int `json:"expired_count"`
		Active  int `json:"active_count"`
	}
	type ListResponse struct {
		Exam       examResponse `json:"exam"`
		Tokens     []Token      `json:"tokens"`
		Statistics Statistics   `json:"statistics"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		examID, ok := examIDFromPath(w, r)
		if !ok {
			return
		}

		list, err := gw.ListForExam(r.Context(), caller(r), examID)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrInvalidReference):
				render.ServiceError(w, "Exam not found", http.StatusNotFound)
			default:
				serviceError(w, err, l)
			}
			return
		}

		now := time.Now()
		tokens := make([]Token, 0, len(list.Entries))
		for _, e := range list.Entries {
			tokens = append(tokens, Token{
				ID:           e.Token.ID,
				Token:        e.Token.MaskedSecret(),
				StudentName:  e.Subject.DisplayName(),
				StudentEmail: e.Subject.Email,
				IsUsed:       e.Token.Used,
				IsExpired:    e.Token.Expired(now),
				IsValid:      e.Token.Active(now),
				Status:       e.Token.State(now),
				IssuedAt:     e.Token.IssuedAt,
				ValidUntil:   e.Token.ValidUntil,
				UsedAt:       e.Token.UsedAt,
			})
		}

		render.JSON(w, ListResponse{
			Exam:   newExamResponse(list.Exam),
			Tokens: tokens,
			Statistics: Statistics{
				Total:   list.Stats.Total,
				Used:    list.Stats.Used,
				Expired: list.Stats.Expired,
				Active:  list.Stats.Active,
			},
		})
	}
}

func handleInvalidate(gw tokenGateway, l logger.Logger) http.HandlerFunc {
	type InvalidateResponse struct {
		Message string `json:"message"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("tokenID"))
		if err != nil {
			render.ServiceError(w, "Invalid token id", http.StatusBadRequest)
			return
		}

		_, err = gw.Invalidate(r.Context(), caller(r), id)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrTokenNotFound):
				render.ServiceError(w, "Token not found", http.StatusNotFound)
			default:
				serviceError(w, err, l)
			}
			return
		}

		render.JSON(w, InvalidateResponse{Message: "Token invalidated successfully"})
	}
}

func handleCleanup(gw tokenGateway, l logger.Logger) http.HandlerFunc {
	type CleanupRequest struct {
		Days      int    `json:"days" validate:"gte=0"`
		BatchSize int    `json:"batch_size" validate:"gte=0,lte=100000"`
		DryRun    bool   `json:"dry_run"`
		ExamID    *int64 `json:"exam_id" validate:"omitnil,gte=1"`
		Used      *bool  `json:"used"`
	}
	type CleanupResponse struct {
		Message      string `json:"message"`
		DeletedCount int    `json:"deleted_count"`
		UsedCount    int    `json:"used_count"`
		UnusedCount  int    `json:"unused_count"`
		DryRun       bool   `json:"dry_run"`
		Criteria     string `json:"criteria"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[CleanupRequest](w, r)
		if err != nil {
			return
		}

		report, err := gw.Cleanup(r.Context(), caller(r), gateway.CleanupRequest{
			OlderThanDays: data.Days,
			BatchSize:     data.BatchSize,
			DryRun:        data.DryRun,
			ExamID:        data.ExamID,
			Used:          data.Used,
		})
		if err != nil {
			serviceError(w, err, l)
			return
		}

		message := fmt.Sprintf("Cleaned up %d expired tokens", report.Deleted)
		if report.DryRun {
			message = fmt.Sprintf("Would clean up %d expired tokens", report.Deleted)
		}
		criteria := "All expired tokens"
		if data.Days > 0 {
			criteria = fmt.Sprintf("Tokens expired more than %d days ago", data.Days)
		}

		render.JSON(w, CleanupResponse{
			Message:      message,
			DeletedCount: report.Deleted,
			UsedCount:    report.Used,
			UnusedCount:  report.Unused,
			DryRun:       report.DryRun,
			Criteria:     criteria,
		})
	}
}

func handleHealth() http.HandlerFunc {
	type HealthResponse struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		render.JSON(w, HealthResponse{Status: "healthy", Service: "Secure Exam Access API"})
	}
}

func examIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	examID, err := strconv.ParseInt(r.PathValue("examID"), 10, 64)
	if err != nil || examID < 1 {
		render.ServiceError(w, "Exam not found", http.StatusNotFound)
		return 0, false
	}
	return examID, true
}

// Caller middleware guarantees the caller is set; anonymous is denied by gateway anyway
func caller(r *http.Request) models.Caller {
	c, _ := callerctx.FromContext(r.Context())
	return c
}

// serviceError renders errors shared by every operation
func serviceError(w http.ResponseWriter, err error, l logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		render.ServiceError(w, "You do not have permission to perform this action", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrInvalidInput):
		render.ServiceError(w, "Invalid input", http.StatusBadRequest)
	case apperrors.IsRetryable(err):
		l.Error("Store unavailable", "error", err)
		w.Header().Set("Retry-After", "1")
		render.ServiceError(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
	default:
		l.Error("Unexpected error", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
