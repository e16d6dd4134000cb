package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DAILY SUMMARIES QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetDailySummariesQuery asks for per-day totals over an inclusive range.
type GetDailySummariesQuery struct {
	UserID string
	From   time.Time
	To     time.Time

	// FillGaps adds zero rows for days without sessions.
	FillGaps bool
}

// Validate checks the range: From <= To and at most MaxSummaryRange days.
func (q *GetDailySummariesQuery) Validate() error {
	if q.From.IsZero() || q.To.IsZero() {
		return shared.WrapError("progress", "ListSummaries", shared.ErrInvalidInput, "invalid date range",
			fmt.Errorf("from and to are required"))
	}
	q.From = timeutil.StartOfDay(q.From)
	q.To = timeutil.StartOfDay(q.To)
	if q.To.Before(q.From) {
		return shared.WrapError("progress", "ListSummaries", shared.ErrInvalidInput, "invalid date range",
			fmt.Errorf("from %s is after to %s", timeutil.FormatDay(q.From), timeutil.FormatDay(q.To)))
	}
	if days := timeutil.DaysBetween(q.From, q.To) + 1; days > progress.MaxSummaryRange {
		return shared.WrapError("progress", "ListSummaries", shared.ErrValueOutOfRange, "invalid date range",
			fmt.Errorf("%d days requested, at most %d allowed", days, progress.MaxSummaryRange))
	}
	return nil
}

// DailySummaryDTO is one day of study.
type DailySummaryDTO struct {
	Date         time.Time
	TotalSeconds int64
}

// DailySummariesDTO is the result of GetDailySummariesQuery.
type DailySummariesDTO struct {
	UserID       string
	From         time.Time
	To           time.Time
	Days         []DailySummaryDTO
	TotalSeconds int64
	ActiveDays   int
}

// GetDailySummariesHandler handles GetDailySummariesQuery.
type GetDailySummariesHandler struct {
	repo progress.ReadRepository
}

// NewGetDailySummariesHandler creates the handler.
func NewGetDailySummariesHandler(repo progress.ReadRepository) *GetDailySummariesHandler {
	return &GetDailySummariesHandler{repo: repo}
}

// Handle returns the summaries ordered by day.
func (h *GetDailySummariesHandler) Handle(ctx context.Context, q GetDailySummariesQuery) (*DailySummariesDTO, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rows, err := h.repo.ListDailySummaries(ctx, userID, progress.DateRange{From: q.From, To: q.To})
	if err != nil {
		return nil, fmt.Errorf("failed to list daily summaries: %w", err)
	}

	dto := &DailySummariesDTO{
		UserID: userID.String(),
		From:   q.From,
		To:     q.To,
		Days:   make([]DailySummaryDTO, 0, len(rows)),
	}
	byDay := make(map[string]int64, len(rows))
	for _, r := range rows {
		dto.TotalSeconds += r.TotalSeconds
		if r.TotalSeconds > 0 {
			dto.ActiveDays++
		}
		byDay[timeutil.FormatDay(r.Date)] = r.TotalSeconds
		if !q.FillGaps {
			dto.Days = append(dto.Days, DailySummaryDTO{Date: r.Date, TotalSeconds: r.TotalSeconds})
		}
	}

	if q.FillGaps {
		for _, day := range timeutil.DayRange(q.From, q.To) {
			dto.Days = append(dto.Days, DailySummaryDTO{Date: day, TotalSeconds: byDay[timeutil.FormatDay(day)]})
		}
	}
	return dto, nil
}
