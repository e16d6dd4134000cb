package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/shared"
)

// GetUserRankQuery asks for one user's position in a period.
type GetUserRankQuery struct {
	Period string
	UserID string
}

// UserRankDTO is one user's entry in the current snapshot.
type UserRankDTO struct {
	Period     leaderboard.Period
	Entry      leaderboard.Entry
	TotalCount int
	AsOf       time.Time
	AsOfDay    time.Time
}

// GetUserRankHandler handles GetUserRankQuery. Users hidden from the
// leaderboard or without activity in the window are reported as not found.
type GetUserRankHandler struct {
	repo leaderboard.Repository
}

// NewGetUserRankHandler creates the handler.
func NewGetUserRankHandler(repo leaderboard.Repository) *GetUserRankHandler {
	return &GetUserRankHandler{repo: repo}
}

// Handle returns the user's entry.
func (h *GetUserRankHandler) Handle(ctx context.Context, q GetUserRankQuery) (*UserRankDTO, error) {
	period, err := leaderboard.ParsePeriod(q.Period)
	if err != nil {
		return nil, err
	}
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, err
	}

	entry, info, err := h.repo.UserEntry(ctx, period, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read user rank: %w", err)
	}

	return &UserRankDTO{
		Period:     period,
		Entry:      *entry,
		TotalCount: info.EntryCount,
		AsOf:       info.ComputedAt,
		AsOfDay:    info.AsOfDay,
	}, nil
}
