package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

type Service interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	// WantsNotifications reports whether status emails should go out for the
	// owner of an order. Guests are always notified.
	WantsNotifications(ctx context.Context, userID uuid.NullUUID) (bool, error)
	SetNotificationsOptOut(ctx context.Context, id uuid.UUID, optOut bool) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}

		log.Error().Err(err).Stringer("user_id", id).Msg("service: failed to get user by id")
		return nil, fmt.Errorf("service: failed to get user by id '%s': %w", id, err)
	}

	return u, nil
}

func (s *service) WantsNotifications(ctx context.Context, userID uuid.NullUUID) (bool, error) {
	if !userID.Valid {
		return true, nil
	}

	u, err := s.repo.GetByID(ctx, userID.UUID)
	if err != nil {
		// Accounts not mirrored locally have no stored preference.
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("service: failed to read notification preference: %w", err)
	}

	return !u.NotificationsOptOut, nil
}

func (s *service) SetNotificationsOptOut(ctx context.Context, id uuid.UUID, optOut bool) error {
	if err := s.repo.SetNotificationsOptOut(ctx, id, optOut); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		log.Error().Err(err).Stringer("user_id", id).Msg("service: failed to update notification preference")
		return fmt.Errorf("service: failed to update notification preference: %w", err)
	}

	log.Info().Stringer("user_id", id).Bool("opt_out", optOut).Msg("service: notification preference updated")
	return nil
}
