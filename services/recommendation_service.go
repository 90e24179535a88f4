package services

import (
	"context"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RecommendationService ranks open grants for a profile on demand. It is
// read-only and safe for concurrent use.
type RecommendationService struct {
	profiles       ProfileStore
	grants         GrantIndex
	engine         *MatchEngine
	defaultLimit   int
	maxLimit       int
	serviceMetrics *shared.ServiceMetrics
}

func NewRecommendationService(profiles ProfileStore, grants GrantIndex, engine *MatchEngine) *RecommendationService {
	config := shared.NewDefaultUnifiedConfiguration()

	return &RecommendationService{
		profiles:       profiles,
		grants:         grants,
		engine:         engine,
		defaultLimit:   config.Matching.DefaultRecommendations,
		maxLimit:       config.Matching.MaxRecommendations,
		serviceMetrics: shared.NewServiceMetrics("Recommendation_Service"),
	}
}

// DefaultLimit is the configured limit for requests that name none
func (s *RecommendationService) DefaultLimit() int {
	return s.defaultLimit
}

// NormalizeLimit caps limit at the configured maximum. Non-positive limits
// become 0.
func (s *RecommendationService) NormalizeLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// Recommend returns at most limit open grants for the profile, best match
// first. Grants scoring 0 are never returned and a non-positive limit
// yields an empty result.
func (s *RecommendationService) Recommend(ctx context.Context, profileID uuid.UUID, limit int) ([]models.Recommendation, error) {
	profile, err := s.profiles.Get(ctx, profileID)
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, "recommendation-service", "recommend", true)
	}
	if profile == nil {
		return nil, shared.NewNotFoundError("profile", profileID.String(), "recommendation-service", "recommend")
	}
	return s.recommendForProfile(ctx, profile, limit)
}

// RecommendForUser resolves the profile owned by userID and recommends for it
func (s *RecommendationService) RecommendForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Recommendation, error) {
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, "recommendation-service", "recommend_for_user", true)
	}
	if profile == nil {
		return nil, shared.NewNotFoundError("profile for user", userID.String(), "recommendation-service", "recommend_for_user")
	}
	return s.recommendForProfile(ctx, profile, limit)
}

func (s *RecommendationService) recommendForProfile(ctx context.Context, profile *models.UserProfile, limit int) ([]models.Recommendation, error) {
	start := time.Now()
	limit = s.NormalizeLimit(limit)
	if limit == 0 {
		return []models.Recommendation{}, nil
	}

	grants, err := s.grants.GetOpenGrants(ctx)
	if err != nil {
		s.serviceMetrics.RecordRequest(false, time.Since(start))
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, "recommendation-service", "load_open_grants", true)
	}

	at := s.engine.Now()
	recs := make([]models.Recommendation, 0, len(grants))
	for i := range grants {
		grant := &grants[i]
		if err := s.engine.ValidateGrant(grant); err != nil {
			s.serviceMetrics.RecordRequest(false, time.Since(start))
			return nil, err
		}

		result := s.engine.Evaluate(profile, grant, at)
		if result.Score <= 0 {
			continue
		}
		recs = append(recs, models.Recommendation{
			Grant:           *grant,
			Score:           result.Score,
			MatchedKeywords: result.MatchedKeywords,
		})
	}

	SortRecommendations(recs)
	if len(recs) > limit {
		recs = recs[:limit]
	}

	s.serviceMetrics.RecordRequest(true, time.Since(start))
	logrus.WithFields(logrus.Fields{
		"component":  "RecommendationService",
		"profile_id": profile.ID,
		"candidates": len(grants),
		"returned":   len(recs),
		"limit":      limit,
	}).Debug("Recommendations computed")

	return recs, nil
}

// GetServiceMetrics returns the service metrics
func (s *RecommendationService) GetServiceMetrics() *shared.ServiceMetrics {
	return s.serviceMetrics
}
