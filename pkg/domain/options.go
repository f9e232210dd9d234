package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNameRequired = errors.New("character name required")
	ErrOptionLocked = errors.New("option requires premium")
	ErrUnknownValue = errors.New("unknown option value")
)

// Option is one selectable story parameter.
type Option struct {
	Value   string
	Label   string
	MinTier Tier
}

var tierLevels = map[Tier]int{
	TierFree:    0,
	TierPremium: 1,
}

// Locked reports whether an option with minTier is unavailable to userTier.
func Locked(minTier, userTier Tier) bool {
	if minTier == "" {
		return false
	}
	return tierLevels[minTier] > tierLevels[userTier]
}

var (
	Themes = []Option{
		{Value: "Space Explorer", Label: "Space Explorer", MinTier: TierFree},
		{Value: "Enchanted Forest", Label: "Enchanted Forest", MinTier: TierFree},
		{Value: "Ocean Mysteries", Label: "Ocean Mysteries", MinTier: TierPremium},
		{Value: "Dinosaur Land", Label: "Dinosaur Land", MinTier: TierPremium},
		{Value: "Magical Kingdom", Label: "Magical Kingdom", MinTier: TierPremium},
		{Value: "Superhero City", Label: "Superhero City", MinTier: TierPremium},
	}
	Ages = []Option{
		{Value: "3", Label: "0-3 years"},
		{Value: "5", Label: "3-5 years"},
		{Value: "8", Label: "6-8 years"},
		{Value: "12", Label: "9-12 years"},
	}
	Lengths = []Option{
		{Value: "Short", Label: "Short Story", MinTier: TierFree},
		{Value: "Medium", Label: "Standard Story", MinTier: TierPremium},
		{Value: "Long", Label: "Epic Tale", MinTier: TierPremium},
	}
	Tones = []Option{
		{Value: "Warm", Label: "Warm & Cozy", MinTier: TierFree},
		{Value: "Playful", Label: "Playful", MinTier: TierFree},
		{Value: "Exciting", Label: "Exciting", MinTier: TierPremium},
		{Value: "Magical", Label: "Magical", MinTier: TierPremium},
		{Value: "Epic", Label: "Epic Adventure", MinTier: TierPremium},
	}
	CoverStyles = []Option{
		{Value: "storybook", Label: "Classic Storybook", MinTier: TierFree},
		{Value: "cartoon", Label: "Fun Cartoon", MinTier: TierPremium},
		{Value: "watercolor", Label: "Watercolor", MinTier: TierPremium},
		{Value: "anime", Label: "Anime", MinTier: TierPremium},
		{Value: "3d", Label: "3D Cartoon", MinTier: TierPremium},
		{Value: "realistic", Label: "Realistic", MinTier: TierPremium},
	}
	Languages = []Option{
		{Value: "en", Label: "English"},
		{Value: "tr", Label: "Türkçe"},
		{Value: "es", Label: "Español"},
		{Value: "de", Label: "Deutsch"},
		{Value: "fr", Label: "Français"},
	}
	Genders = []Option{
		{Value: "boy", Label: "Boy"},
		{Value: "girl", Label: "Girl"},
		{Value: "neutral", Label: "Neutral"},
	}
)

// FindOption looks up value in a catalog.
func FindOption(options []Option, value string) (Option, bool) {
	for _, opt := range options {
		if opt.Value == value {
			return opt, true
		}
	}
	return Option{}, false
}

// GenerateRequest is the body of POST /api/book/generate.
type GenerateRequest struct {
	BookTitle  string `json:"bookTitle"`
	MainTopic  string `json:"mainTopic"`
	Name       string `json:"name"`
	Gender     string `json:"gender"`
	Age        int    `json:"age"`
	Language   string `json:"language"`
	Theme      string `json:"theme"`
	Tone       string `json:"tone"`
	CoverStyle string `json:"coverStyle"`
	Giver      string `json:"giver"`
	IsPublic   bool   `json:"isPublic"`
	Length     string `json:"length"`
}

// WithDefaults fills unset fields with the creation form defaults.
func (r GenerateRequest) WithDefaults() GenerateRequest {
	r.Name = strings.TrimSpace(r.Name)
	r.BookTitle = strings.TrimSpace(r.BookTitle)
	r.MainTopic = strings.TrimSpace(r.MainTopic)
	if r.Gender == "" {
		r.Gender = "neutral"
	}
	if r.Age <= 0 {
		r.Age = 5
	}
	if r.Language == "" {
		r.Language = "en"
	}
	if r.Theme == "" {
		r.Theme = "Space Explorer"
	}
	if r.Tone == "" {
		r.Tone = "Playful"
	}
	if r.CoverStyle == "" {
		r.CoverStyle = "storybook"
	}
	if r.Giver == "" {
		r.Giver = "Parent"
	}
	if r.Length == "" {
		r.Length = "Short"
	}
	return r
}

// Validate checks required fields and tier gating for tier.
// It expects a request that already went through WithDefaults.
func (r GenerateRequest) Validate(tier Tier) error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrNameRequired
	}
	checks := []struct {
		field   string
		value   string
		options []Option
	}{
		{"theme", r.Theme, Themes},
		{"tone", r.Tone, Tones},
		{"coverStyle", r.CoverStyle, CoverStyles},
		{"length", r.Length, Lengths},
		{"language", r.Language, Languages},
		{"gender", r.Gender, Genders},
	}
	for _, c := range checks {
		opt, ok := FindOption(c.options, c.value)
		if !ok {
			return fmt.Errorf("%s %q: %w", c.field, c.value, ErrUnknownValue)
		}
		if Locked(opt.MinTier, tier) {
			return fmt.Errorf("%s %q: %w", c.field, c.value, ErrOptionLocked)
		}
	}
	return nil
}
