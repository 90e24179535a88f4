package services

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchWeights are the component weights of the final score. They sum to 1.
type MatchWeights struct {
	Keyword float64
	Region  float64
	Amount  float64
}

// DefaultMatchWeights favours keyword relevance over region and amount fit
var DefaultMatchWeights = MatchWeights{Keyword: 0.5, Region: 0.3, Amount: 0.2}

// neutralKeywordScore is used for profiles without keywords so they can
// still surface grants through region and amount fit
const neutralKeywordScore = 0.5

// MatchResult is the breakdown of one profile/grant evaluation
type MatchResult struct {
	Score           float64  `json:"score"`
	KeywordScore    float64  `json:"keyword_score"`
	RegionScore     float64  `json:"region_score"`
	AmountScore     float64  `json:"amount_score"`
	MatchedKeywords []string `json:"matched_keywords"`
	Live            bool     `json:"live"`
}

// PreparedGrant caches the token set of a grant so it can be scored
// against many profiles
type PreparedGrant struct {
	Grant  *models.Grant
	tokens map[string]struct{}
	region string
}

// MatchEngine scores how well a grant fits a profile. Scoring is pure:
// no I/O, no shared mutable state, safe for concurrent use.
type MatchEngine struct {
	text    *UtilityService
	weights MatchWeights
	now     func() time.Time
}

// NewMatchEngine creates an engine evaluating against the wall clock
func NewMatchEngine() *MatchEngine {
	return NewMatchEngineWithClock(time.Now)
}

// NewMatchEngineWithClock creates an engine with an injected clock
func NewMatchEngineWithClock(now func() time.Time) *MatchEngine {
	if now == nil {
		now = time.Now
	}
	return &MatchEngine{
		text:    NewUtilityService(),
		weights: DefaultMatchWeights,
		now:     now,
	}
}

// Now returns the engine's evaluation time
func (e *MatchEngine) Now() time.Time {
	return e.now()
}

// Score returns the relevance of grant for profile in [0, 1] at the
// engine's current time
func (e *MatchEngine) Score(profile *models.UserProfile, grant *models.Grant) float64 {
	return e.Evaluate(profile, grant, e.now()).Score
}

// Evaluate scores grant for profile as of at
func (e *MatchEngine) Evaluate(profile *models.UserProfile, grant *models.Grant, at time.Time) MatchResult {
	if grant == nil {
		return MatchResult{}
	}
	return e.EvaluatePrepared(profile, e.PrepareGrant(grant), at)
}

// PrepareGrant tokenizes title and description once. Description markup
// from scraped portals is reduced to its visible text first.
func (e *MatchEngine) PrepareGrant(grant *models.Grant) *PreparedGrant {
	text := grant.Title + " " + e.text.StripMarkup(grant.Description)
	return &PreparedGrant{
		Grant:  grant,
		tokens: e.text.TokenSet(text),
		region: e.text.NormalizeText(grant.Region),
	}
}

// EvaluatePrepared scores a prepared grant for profile as of at
func (e *MatchEngine) EvaluatePrepared(profile *models.UserProfile, pg *PreparedGrant, at time.Time) MatchResult {
	if profile == nil || pg == nil || pg.Grant == nil {
		return MatchResult{}
	}
	if !e.IsLive(pg.Grant, at) {
		return MatchResult{MatchedKeywords: []string{}}
	}

	keyword, matched := e.keywordScore(profile.Keywords, pg.tokens)
	region := e.regionScore(profile.Regions, pg.region)
	amount := amountScore(pg.Grant.Amount, profile.MinAmount, profile.MaxAmount)

	total := e.weights.Keyword*keyword + e.weights.Region*region + e.weights.Amount*amount

	return MatchResult{
		Score:           clamp01(total),
		KeywordScore:    keyword,
		RegionScore:     region,
		AmountScore:     amount,
		MatchedKeywords: matched,
		Live:            true,
	}
}

// IsLive reports whether a grant can still be recommended or notified:
// not closed and its deadline date not before the date of at
func (e *MatchEngine) IsLive(grant *models.Grant, at time.Time) bool {
	return grant != nil && !grant.IsClosed() && !grant.DeadlinePassed(at)
}

// ValidateGrant rejects grants the engine cannot score meaningfully
func (e *MatchEngine) ValidateGrant(grant *models.Grant) error {
	if grant == nil {
		return shared.NewInvalidGrantError("<nil>", "grant is nil", "match-engine", "validate")
	}
	if grant.ID == uuid.Nil {
		return shared.NewInvalidGrantError(grant.ID.String(), "grant has no id (title "+strconv.Quote(grant.Title)+")", "match-engine", "validate")
	}
	if grant.Amount.Valid && grant.Amount.Decimal.IsNegative() {
		return shared.NewInvalidGrantError(grant.ID.String(), "negative amount "+grant.Amount.Decimal.String(), "match-engine", "validate")
	}
	return nil
}

// keywordScore is the share of distinct profile keywords found in the
// grant text. A multi-word keyword matches when all of its tokens occur.
func (e *MatchEngine) keywordScore(keywords []string, tokens map[string]struct{}) (float64, []string) {
	matched := []string{}
	seen := make(map[string]struct{}, len(keywords))
	total := 0

	for _, raw := range keywords {
		normalized := e.text.NormalizeText(raw)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		total++

		if containsAllTokens(tokens, strings.Fields(normalized)) {
			matched = append(matched, strings.TrimSpace(raw))
		}
	}

	if total == 0 {
		return neutralKeywordScore, matched
	}
	return float64(len(matched)) / float64(total), matched
}

func (e *MatchEngine) regionScore(regions []string, grantRegion string) float64 {
	wildcard := true
	for _, region := range regions {
		normalized := e.text.NormalizeText(region)
		if normalized == "" {
			continue
		}
		wildcard = false
		if grantRegion != "" && normalized == grantRegion {
			return 1
		}
	}
	if wildcard {
		return 1
	}
	return 0
}

// amountScore is 1 inside [min, max] and decays linearly with the
// distance to the violated bound, relative to the bound width. With a
// single bound the width is that bound's magnitude. Inverted bounds never
// match.
func amountScore(amount, minAmount, maxAmount decimal.NullDecimal) float64 {
	if !amount.Valid {
		return 1
	}
	if minAmount.Valid && maxAmount.Valid && minAmount.Decimal.GreaterThan(maxAmount.Decimal) {
		return 0
	}

	value := amount.Decimal
	belowMin := minAmount.Valid && value.LessThan(minAmount.Decimal)
	aboveMax := maxAmount.Valid && value.GreaterThan(maxAmount.Decimal)
	if !belowMin && !aboveMax {
		return 1
	}

	var distance decimal.Decimal
	if belowMin {
		distance = minAmount.Decimal.Sub(value)
	} else {
		distance = value.Sub(maxAmount.Decimal)
	}

	var width decimal.Decimal
	switch {
	case minAmount.Valid && maxAmount.Valid:
		width = maxAmount.Decimal.Sub(minAmount.Decimal)
	case minAmount.Valid:
		width = minAmount.Decimal.Abs()
	default:
		width = maxAmount.Decimal.Abs()
	}

	if !width.IsPositive() {
		return 0
	}

	return math.Max(0, 1-distance.Div(width).InexactFloat64())
}

func containsAllTokens(set map[string]struct{}, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, token := range tokens {
		if _, ok := set[token]; !ok {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CompareRecommendations orders by score descending, then deadline
// ascending with open-ended grants last, then id. It returns a negative
// number when a ranks before b.
func CompareRecommendations(a, b models.Recommendation) int {
	if a.Score != b.Score {
		if a.Score > b.Score {
			return -1
		}
		return 1
	}

	da, db := a.Grant.Deadline, b.Grant.Deadline
	switch {
	case da != nil && db == nil:
		return -1
	case da == nil && db != nil:
		return 1
	case da != nil && db != nil && !da.Equal(*db):
		if da.Before(*db) {
			return -1
		}
		return 1
	}

	return strings.Compare(a.Grant.ID.String(), b.Grant.ID.String())
}

// SortRecommendations sorts in place by CompareRecommendations
func SortRecommendations(recs []models.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		return CompareRecommendations(recs[i], recs[j]) < 0
	})
}
