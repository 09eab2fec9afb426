package users

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/domain"
)

// Service implements user management and recipient resolution.
type Service struct {
	repo Repository
}

// NewService creates a new users service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateInput contains the fields for creating a user.
type CreateInput struct {
	Username    string
	Email       string
	PhoneNumber string
	DeviceToken string
}

// Create registers a new user.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.User, error) {
	if existing, err := s.repo.GetByUsername(ctx, input.Username); err == nil && existing != nil {
		return nil, ErrUsernameTaken
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:          uuid.New().String(),
		Username:    input.Username,
		Email:       input.Email,
		PhoneNumber: input.PhoneNumber,
		DeviceToken: input.DeviceToken,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// UpdateInput contains the updatable fields of a user. Nil means unchanged.
type UpdateInput struct {
	Email       *string
	PhoneNumber *string
	DeviceToken *string
}

// Update modifies a user's contact details.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*domain.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Email != nil {
		user.Email = *input.Email
	}
	if input.PhoneNumber != nil {
		user.PhoneNumber = *input.PhoneNumber
	}
	if input.DeviceToken != nil {
		user.DeviceToken = *input.DeviceToken
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// Delete removes a user.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// List returns a page of users.
func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// GetUser resolves one recipient by id.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetByID(ctx, id)
}

// GetUsers resolves recipients by id. Unknown ids are silently dropped;
// callers that care about the difference compare lengths.
func (s *Service) GetUsers(ctx context.Context, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.repo.GetByIDs(ctx, ids)
}
