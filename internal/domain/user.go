package domain

import (
	"time"
)

type UserRole string

const (
	RoleSeeker UserRole = "seeker"
	RoleHirer  UserRole = "hirer"
)

func (r UserRole) IsValid() bool {
	return r == RoleSeeker || r == RoleHirer
}

// User is the directory profile record. Role and OnboardingComplete gate
// which workflow actions a user may perform.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	Age                int       `json:"age"`
	Role               UserRole  `json:"role"`
	ProfileImage       *string   `json:"profileImage,omitempty"`
	Skills             []string  `json:"skills"`
	Bio                *string   `json:"bio,omitempty"`
	Location           *string   `json:"location,omitempty"`
	OnboardingComplete bool      `json:"onboardingComplete"`
	CreatedAt          time.Time `json:"createdAt"`
}

// CanPost reports whether the user may create opportunities.
func (u *User) CanPost() bool {
	return u.Role == RoleHirer && u.OnboardingComplete
}

// CanApply reports whether the user may apply to opportunities.
func (u *User) CanApply() bool {
	return u.Role == RoleSeeker && u.OnboardingComplete
}

type UpdateUserInput struct {
	Name               *string   `json:"name,omitempty"`
	Age                *int      `json:"age,omitempty"`
	Role               *UserRole `json:"role,omitempty"`
	ProfileImage       **string  `json:"profileImage,omitempty"`
	Skills             *[]string `json:"skills,omitempty"`
	Bio                **string  `json:"bio,omitempty"`
	Location           **string  `json:"location,omitempty"`
	OnboardingComplete *bool     `json:"onboardingComplete,omitempty"`
}
