package models

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Profile is the account record for a user (PostgreSQL). UID is the same id
// used as fromUserId/toUserId on connections.
type Profile struct {
	UID          string    `json:"uid" gorm:"primaryKey;size:128"`
	DisplayName  string    `json:"displayName" gorm:"size:100"`
	Email        string    `json:"email" gorm:"size:255;index"`
	Headline     string    `json:"headline,omitempty" gorm:"size:160"`
	PasswordHash string    `json:"-"` // bcrypt, local accounts only
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ProfileCompact is the public subset of a profile embedded in other responses.
type ProfileCompact struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Headline    string `json:"headline,omitempty"`
}

func (p *Profile) ToCompact() ProfileCompact {
	return ProfileCompact{UID: p.UID, DisplayName: p.DisplayName, Headline: p.Headline}
}

type CreateLocalProfileRequest struct {
	DisplayName string `json:"displayName" validate:"required,min=2,max=50"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UpdateProfileRequest struct {
	DisplayName string `json:"displayName,omitempty" validate:"omitempty,min=2,max=50"`
	Headline    string `json:"headline,omitempty" validate:"omitempty,max=160"`
}

// JwtCustomClaims are custom claims extending standard jwt.RegisteredClaims
type JwtCustomClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}
