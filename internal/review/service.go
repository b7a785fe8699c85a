// Package review fronts the outfit scoring pipeline. The scorer itself is a
// downstream collaborator; this service's job is to spend exactly one quota
// unit per successful score and none per failed one.
package review

import (
	"context"
	"log/slog"

	"fitgate/internal/admission"
	"fitgate/internal/guest/models"
	dErrors "fitgate/pkg/domainerrors"
)

// ScoreRequest carries the submitted outfit image reference and context.
type ScoreRequest struct {
	ImageURL string `json:"image_url"`
	Occasion string `json:"occasion,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ScoreResult is the scored review returned to the client.
type ScoreResult struct {
	Score    int      `json:"score"`
	Verdict  string   `json:"verdict"`
	Tips     []string `json:"tips,omitempty"`
	ReviewID string   `json:"review_id"`
}

// Scorer is the downstream analysis port. Calls may be slow; the admission
// layer holds no locks while one is in flight.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error)
}

type Service struct {
	admitter *admission.Service
	scorer   Scorer
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(admitter *admission.Service, scorer Scorer, opts ...Option) (*Service, error) {
	if admitter == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "admission service is required")
	}
	if scorer == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "scorer is required")
	}

	s := &Service{
		admitter: admitter,
		scorer:   scorer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submission is the outcome of one review attempt: either a denial with its
// admission result, or a scored review with the quota standing after it.
type Submission struct {
	Decision *admission.Result
	Review   *ScoreResult
}

// SubmitReview runs the scorer under an admission reservation. A scorer
// failure surfaces as an error and costs no quota.
func (s *Service) SubmitReview(ctx context.Context, identity models.Identity, req ScoreRequest) (*Submission, error) {
	if req.ImageURL == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "image_url is required")
	}

	var result *ScoreResult
	decision, err := s.admitter.Admit(ctx, identity, func(opCtx context.Context) error {
		scored, scoreErr := s.scorer.Score(opCtx, req)
		if scoreErr != nil {
			return scoreErr
		}
		result = scored
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !decision.Admitted {
		return &Submission{Decision: decision}, nil
	}
	return &Submission{Decision: decision, Review: result}, nil
}
