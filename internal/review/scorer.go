package review

import (
	"context"
	"hash/fnv"

	"github.com/google/uuid"
)

// HeuristicScorer is the built-in fallback scorer used when no analysis
// backend is configured. Deterministic per image so repeated submissions of
// the same outfit agree with each other.
type HeuristicScorer struct{}

func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

func (h *HeuristicScorer) Score(_ context.Context, req ScoreRequest) (*ScoreResult, error) {
	hash := fnv.New32a()
	hash.Write([]byte(req.ImageURL))
	hash.Write([]byte(req.Occasion))
	score := 40 + int(hash.Sum32()%56)

	verdict := "needs work"
	switch {
	case score >= 85:
		verdict = "sharp"
	case score >= 65:
		verdict = "solid"
	}

	result := &ScoreResult{
		Score:    score,
		Verdict:  verdict,
		ReviewID: uuid.NewString(),
	}
	if req.Occasion != "" && score < 65 {
		result.Tips = append(result.Tips, "consider a cleaner silhouette for "+req.Occasion)
	}
	return result, nil
}
