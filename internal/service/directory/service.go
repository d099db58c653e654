// Package directory is the persisted id -> profile map used to resolve
// participants and gate workflow actions. Writes are last-write-wins.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kerjabareng/internal/domain"
)

var ErrNotFound = errors.New("user not found")

const keyPrefix = "user:"

type Service interface {
	Put(ctx context.Context, user *domain.User) error
	Get(ctx context.Context, id string) (*domain.User, error)
	Update(ctx context.Context, id string, input domain.UpdateUserInput) (*domain.User, error)
}

type service struct {
	redis *redis.Client
}

func NewService(redisClient *redis.Client) Service {
	return &service{redis: redisClient}
}

func (s *service) Put(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		return errors.New("user id is required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.ID, err)
	}
	if err := s.redis.Set(ctx, keyPrefix+user.ID, raw, 0).Err(); err != nil {
		return fmt.Errorf("store user %s: %w", user.ID, err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, id string) (*domain.User, error) {
	raw, err := s.redis.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return &user, nil
}

// Update patches the stored profile. Concurrent updates resolve
// last-write-wins; there is no versioning or merge.
func (s *service) Update(ctx context.Context, id string, input domain.UpdateUserInput) (*domain.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		user.Name = *input.Name
	}
	if input.Age != nil {
		user.Age = *input.Age
	}
	if input.Role != nil {
		if !input.Role.IsValid() {
			return nil, fmt.Errorf("invalid role %q", *input.Role)
		}
		user.Role = *input.Role
	}
	if input.ProfileImage != nil {
		user.ProfileImage = *input.ProfileImage
	}
	if input.Skills != nil {
		user.Skills = *input.Skills
	}
	if input.Bio != nil {
		user.Bio = *input.Bio
	}
	if input.Location != nil {
		user.Location = *input.Location
	}
	if input.OnboardingComplete != nil {
		user.OnboardingComplete = *input.OnboardingComplete
	}

	if err := s.Put(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
