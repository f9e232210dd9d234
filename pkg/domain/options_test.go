package domain

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateRequestWithDefaults(t *testing.T) {
	req := GenerateRequest{Name: "  Mira ", Theme: "Space Explorer", Age: 5}.WithDefaults()
	if req.Name != "Mira" {
		t.Fatalf("name = %q, want trimmed", req.Name)
	}
	if req.Gender != "neutral" || req.Language != "en" || req.Tone != "Playful" {
		t.Fatalf("unexpected defaults: %+v", req)
	}
	if req.CoverStyle != "storybook" || req.Giver != "Parent" || req.Length != "Short" {
		t.Fatalf("unexpected defaults: %+v", req)
	}
	if req.IsPublic {
		t.Fatalf("isPublic should default to false")
	}
}

func TestGenerateRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  GenerateRequest
		tier Tier
		want error
	}{
		{
			name: "free defaults pass",
			req:  GenerateRequest{Name: "Mira"},
			tier: TierFree,
		},
		{
			name: "blank name rejected",
			req:  GenerateRequest{Name: "   "},
			tier: TierPremium,
			want: ErrNameRequired,
		},
		{
			name: "premium theme locked for free",
			req:  GenerateRequest{Name: "Mira", Theme: "Ocean Mysteries"},
			tier: TierFree,
			want: ErrOptionLocked,
		},
		{
			name: "premium theme allowed for premium",
			req:  GenerateRequest{Name: "Mira", Theme: "Ocean Mysteries", Length: "Long"},
			tier: TierPremium,
		},
		{
			name: "unknown cover style",
			req:  GenerateRequest{Name: "Mira", CoverStyle: "oil"},
			tier: TierPremium,
			want: ErrUnknownValue,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.WithDefaults().Validate(tc.tier)
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPremiumDaysLeft(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(50 * time.Hour)
	u := User{IsPremium: true, PremiumExpiresAt: &expires}
	if got := u.PremiumDaysLeft(now); got != 2 {
		t.Fatalf("days left = %d, want 2", got)
	}
	if got := (User{IsPremium: true}).PremiumDaysLeft(now); got != 0 {
		t.Fatalf("unknown expiry should be 0, got %d", got)
	}
	if u.Tier() != TierPremium || (User{}).Tier() != TierFree {
		t.Fatalf("unexpected tiers")
	}
}
