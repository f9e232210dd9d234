package domain

import (
	"strings"
	"time"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

type User struct {
	ID               int64      `json:"userId"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	IsPremium        bool       `json:"isPremium"`
	IsAdmin          bool       `json:"isAdmin"`
	PremiumExpiresAt *time.Time `json:"premiumExpiresAt,omitempty"`
}

// Tier reports the subscription tier used for option gating.
func (u User) Tier() Tier {
	if u.IsPremium {
		return TierPremium
	}
	return TierFree
}

// PremiumDaysLeft returns whole days until premium expires, 0 when expired or unknown.
func (u User) PremiumDaysLeft(now time.Time) int {
	if !u.IsPremium || u.PremiumExpiresAt == nil {
		return 0
	}
	left := u.PremiumExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left.Hours() / 24)
}

// AuthResponse is returned by login and registration.
type AuthResponse struct {
	Token            string     `json:"token"`
	UserID           int64      `json:"userId"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	IsPremium        bool       `json:"isPremium"`
	IsAdmin          bool       `json:"isAdmin"`
	PremiumExpiresAt *time.Time `json:"premiumExpiresAt,omitempty"`
}

// User extracts the persisted user record.
func (r AuthResponse) User() User {
	return User{
		ID:               r.UserID,
		Name:             r.Name,
		Email:            r.Email,
		IsPremium:        r.IsPremium,
		IsAdmin:          r.IsAdmin,
		PremiumExpiresAt: r.PremiumExpiresAt,
	}
}

type Book struct {
	ID             int64     `json:"bookId"`
	Name           string    `json:"name"`
	Theme          string    `json:"theme"`
	Tone           string    `json:"tone,omitempty"`
	CoverImagePath string    `json:"coverImagePath,omitempty"`
	IsPublic       bool      `json:"isPublic"`
	ViewCount      int       `json:"viewCount"`
	DownloadCount  int       `json:"downloadCount"`
	AuthorName     string    `json:"authorName,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// HasCover reports whether the server has attached a cover image.
func (b Book) HasCover() bool {
	return strings.TrimSpace(b.CoverImagePath) != ""
}

type BookDetail struct {
	Book
	Content  string `json:"content"`
	PDFReady bool   `json:"pdfReady"`
	PDFPath  string `json:"pdfPath,omitempty"`
	AuthorID int64  `json:"authorId"`
}

// GenerationStatus reports the readiness flags of a generation job.
type GenerationStatus struct {
	CoverReady bool `json:"coverReady"`
	PDFReady   bool `json:"pdfReady"`
}

type GenerateResponse struct {
	BookID int64 `json:"bookId"`
}

type ProfileUpdate struct {
	Name string `json:"name"`
}
