package ranking

import (
	"context"
	"math"
)

// ItemType identifies which population a scored entity belongs to.
type ItemType string

const (
	TypeCard       ItemType = "card"
	TypeCollection ItemType = "collection"
)

// AllItemTypes returns every rankable item type.
func AllItemTypes() []ItemType {
	return []ItemType{TypeCard, TypeCollection}
}

// ScoreInput holds the live engagement counters and metadata for one item
// at scoring time. Counters left at zero simply contribute nothing.
type ScoreInput struct {
	Upvotes  int
	Saves    int
	Comments int
	Visits   int // cards only; zero-weighted for collections

	AgeHours float64

	// CreatorQuality is 0-100. Values <= 0 mean "unscored creator" and
	// fall back to the midpoint so new creators are neither penalized
	// nor favored.
	CreatorQuality float64

	PromotionActive bool // collections only
}

// WeightProfile is the per-item-type scoring configuration. Loaded once at
// startup and never mutated afterwards.
type WeightProfile struct {
	Upvote        float64 `yaml:"upvote"`
	Save          float64 `yaml:"save"`
	Comment       float64 `yaml:"comment"`
	Visit         float64 `yaml:"visit"`
	HalfLifeHours float64 `yaml:"half_life_hours"`
}

// DefaultCardProfile returns the hand-tuned weights for cards. Cards are
// ephemeral links, so they decay with a 48h half-life.
func DefaultCardProfile() WeightProfile {
	return WeightProfile{Upvote: 1.0, Save: 2.0, Comment: 2.5, Visit: 1.5, HalfLifeHours: 48}
}

// DefaultCollectionProfile returns the weights for collections. Collections
// are long-lived reference material and decay seven times slower.
func DefaultCollectionProfile() WeightProfile {
	return WeightProfile{Upvote: 0.8, Save: 3.0, Comment: 2.0, Visit: 0.0, HalfLifeHours: 168}
}

// DefaultProfiles returns the default weight profile per item type.
func DefaultProfiles() map[ItemType]WeightProfile {
	return map[ItemType]WeightProfile{
		TypeCard:       DefaultCardProfile(),
		TypeCollection: DefaultCollectionProfile(),
	}
}

const promotionBoost = 0.5

// Score computes the raw ranking score for one item:
//
//	base   = w_u*ln(1+U) + w_s*ln(1+S) + w_c*ln(1+C) + w_v*ln(1+V)
//	raw    = base * (1 + Q/100) * (1 + P) * exp(-ln2/halfLife * age)
//
// Logarithmic engagement terms keep a single viral item from dominating;
// the promotion multiplier boosts rather than replaces organic score.
// Pure function of its arguments, so recomputing is always safe.
func Score(in ScoreInput, w WeightProfile) float64 {
	base := w.Upvote*math.Log1p(float64(in.Upvotes)) +
		w.Save*math.Log1p(float64(in.Saves)) +
		w.Comment*math.Log1p(float64(in.Comments)) +
		w.Visit*math.Log1p(float64(in.Visits))

	quality := in.CreatorQuality
	if quality <= 0 {
		quality = 50
	}
	creatorFactor := 1 + quality/100

	promoFactor := 1.0
	if in.PromotionActive {
		promoFactor += promotionBoost
	}

	lambda := math.Ln2 / w.HalfLifeHours
	ageFactor := math.Exp(-lambda * in.AgeHours)

	return base * creatorFactor * promoFactor * ageFactor
}

// AbuseRater supplies a fraud/abuse multiplier in [0,1] for an item.
// The platform's fraud pipeline plugs in here; without one every item
// rates 1 (no penalty).
type AbuseRater interface {
	Rate(ctx context.Context, t ItemType, id string) float64
}

// NoopAbuseRater rates every item 1.
type NoopAbuseRater struct{}

func (NoopAbuseRater) Rate(context.Context, ItemType, string) float64 { return 1 }
