// Package recommend ranks catalog events for a user by blending content
// similarity with tag affinity, degrading through simpler strategies when the
// user's history or the similarity model cannot support a hybrid ranking.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	"github.com/rusma07/event-recommender-system/internal/profile"
	"github.com/rusma07/event-recommender-system/internal/simmodel"
)

const (
	DefaultTopK             = 15
	DefaultMaxPerCluster    = 2
	DefaultSimilarityWeight = 0.75
	DefaultTagWeight        = 0.25

	DefaultMinInteractions   = 3
	DefaultInteractedPenalty = 0.3

	weightSumTolerance = 1e-6
)

// ErrInvalidRequest is the only error Recommend returns. Everything else
// degrades to a simpler tier.
var ErrInvalidRequest = errors.New("invalid recommendation request")

// Tier names the strategy that produced a response.
type Tier string

const (
	TierHybrid  Tier = "hybrid"
	TierTagOnly Tier = "tag_only"
	TierNewUser Tier = "new_user"
	TierEmpty   Tier = "empty"
)

// ModelSource hands out the current similarity model snapshot, or nil.
type ModelSource interface {
	Current() *simmodel.Model
}

type Recommender interface {
	Recommend(ctx context.Context, req Request) (Response, error)
}

type Request struct {
	UserID           int64   `json:"user_id"`
	TopK             int     `json:"top_k"`
	MaxPerCluster    int     `json:"max_per_cluster"`
	SimilarityWeight float64 `json:"similarity_weight"`
	TagWeight        float64 `json:"tag_weight"`
}

func DefaultRequest(userID int64) Request {
	return Request{
		UserID:           userID,
		TopK:             DefaultTopK,
		MaxPerCluster:    DefaultMaxPerCluster,
		SimilarityWeight: DefaultSimilarityWeight,
		TagWeight:        DefaultTagWeight,
	}
}

func (r Request) Validate() error {
	if r.TopK < 1 {
		return fmt.Errorf("%w: top_k must be >= 1", ErrInvalidRequest)
	}
	if r.MaxPerCluster < 1 {
		return fmt.Errorf("%w: max_per_cluster must be >= 1", ErrInvalidRequest)
	}
	if r.SimilarityWeight < 0 || r.TagWeight < 0 {
		return fmt.Errorf("%w: weights must be >= 0", ErrInvalidRequest)
	}
	if math.Abs(r.SimilarityWeight+r.TagWeight-1) > weightSumTolerance {
		return fmt.Errorf("%w: similarity_weight + tag_weight must equal 1 (got %.4f)", ErrInvalidRequest, r.SimilarityWeight+r.TagWeight)
	}
	return nil
}

// Policy holds the tunables of the tier chain.
type Policy struct {
	MinInteractions    int
	InteractedPenalty  float64
	InteractionWeights map[catalog.InteractionType]float64
	Profile            profile.Weights
}

func DefaultPolicy() Policy {
	return Policy{
		MinInteractions:   DefaultMinInteractions,
		InteractedPenalty: DefaultInteractedPenalty,
		InteractionWeights: map[catalog.InteractionType]float64{
			catalog.InteractionView:     1,
			catalog.InteractionTagClick: 2,
			catalog.InteractionRegister: 5,
		},
		Profile: profile.DefaultWeights(),
	}
}

func (p Policy) Validate() error {
	if p.MinInteractions < 0 {
		return fmt.Errorf("min interactions must be >= 0")
	}
	if p.InteractedPenalty < 0 || p.InteractedPenalty > 1 {
		return fmt.Errorf("interacted penalty must be within [0,1]")
	}
	for kind, weight := range p.InteractionWeights {
		if weight < 0 {
			return fmt.Errorf("interaction weight for %s must be >= 0", kind)
		}
	}
	if p.Profile.TagClick < 0 || p.Profile.Implicit < 0 {
		return fmt.Errorf("profile weights must be >= 0")
	}
	return nil
}

// Result is one recommended event with its scores and display fields.
type Result struct {
	EventID         int64    `json:"event_id"`
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	Image           string   `json:"image"`
	Location        string   `json:"location"`
	Tags            []string `json:"tags"`
	Price           string   `json:"price"`
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`
	Cluster         string   `json:"cluster"`
	SimilarityScore float64  `json:"similarity_score"`
	TagScore        float64  `json:"tag_score"`
	FinalScore      float64  `json:"final_score"`
}

type Response struct {
	Tier    Tier     `json:"tier"`
	Results []Result `json:"results"`
}

func newResult(ev catalog.Event, sim, tag, final float64) Result {
	tags := ev.Tags
	if tags == nil {
		tags = []string{}
	}
	price := ev.Price
	if price == "" {
		price = catalog.DefaultPrice
	}
	return Result{
		EventID:         ev.ID,
		Title:           ev.Title,
		URL:             ev.URL,
		Image:           ev.Image,
		Location:        ev.Location,
		Tags:            tags,
		Price:           price,
		StartDate:       catalog.FormatDate(ev.StartDate),
		EndDate:         catalog.FormatDate(ev.EndDate),
		Cluster:         ev.Cluster,
		SimilarityScore: sim,
		TagScore:        tag,
		FinalScore:      final,
	}
}
