package progress

import (
	"time"

	"github.com/alem-hub/study-engine/internal/domain/shared"
)

// DailySummary is the per-user, per-day aggregate of session durations.
// Exactly one exists for each (user, day) with any sessions.
type DailySummary struct {
	UserID       shared.UserID
	Date         time.Time
	TotalSeconds int64
	UpdatedAt    time.Time
}

// MaxSummaryRange bounds GetDailySummaries requests.
const MaxSummaryRange = 366

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	From time.Time
	To   time.Time
}
