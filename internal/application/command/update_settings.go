package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/logger"
)

// UpdateProfileSettingsCommand changes the user-editable profile fields.
// Nil fields are left as they are.
type UpdateProfileSettingsCommand struct {
	UserID            string
	Username          *string
	ShowInLeaderboard *bool
	IsPublic          *bool
}

// UpdateProfileSettingsHandler handles UpdateProfileSettingsCommand. It never
// touches XP, level or streak counters.
type UpdateProfileSettingsHandler struct {
	repo      progress.ReadRepository
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewUpdateProfileSettingsHandler creates the handler.
func NewUpdateProfileSettingsHandler(repo progress.ReadRepository, publisher shared.EventPublisher, log *logger.Logger) *UpdateProfileSettingsHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &UpdateProfileSettingsHandler{
		repo:      repo,
		publisher: publisher,
		log:       log.With(logger.Component("profile_settings")),
	}
}

// Handle applies the update and returns the resulting profile.
func (h *UpdateProfileSettingsHandler) Handle(ctx context.Context, cmd UpdateProfileSettingsCommand) (*progress.Profile, error) {
	userID, err := shared.NewUserID(cmd.UserID)
	if err != nil {
		return nil, err
	}

	settings := progress.Settings{
		Username:          cmd.Username,
		ShowInLeaderboard: cmd.ShowInLeaderboard,
		IsPublic:          cmd.IsPublic,
	}
	if settings.IsEmpty() {
		return nil, shared.NewDomainError("progress", "UpdateSettings", shared.ErrInvalidInput, "no settings to update")
	}
	if settings, err = settings.Normalize(); err != nil {
		return nil, err
	}

	p, err := h.repo.UpdateSettings(ctx, userID, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}

	if err := h.publisher.Publish(shared.NewProfileSettingsUpdatedEvent(userID.String(), p.ShowInLeaderboard, p.IsPublic)); err != nil {
		h.log.Warn("failed to publish settings event", logger.UserID(userID.String()), logger.Err(err))
	}
	return p, nil
}
