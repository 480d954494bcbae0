package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ledgerx/backend/internal/models"
	"github.com/ledgerx/backend/internal/observability"
	"github.com/ledgerx/backend/internal/resilience"
	"go.uber.org/zap"
)

// ErrMalformedScore is returned by scoring clients for unusable responses.
var ErrMalformedScore = errors.New("malformed score response")

// ScoringClient is the network boundary of the anomaly model.
type ScoringClient interface {
	Score(ctx context.Context, features models.RiskFeatures) (float64, error)
}

// NoopScoringClient always answers with the neutral score.
type NoopScoringClient struct{}

func (NoopScoringClient) Score(context.Context, models.RiskFeatures) (float64, error) {
	return 0, nil
}

type RiskScorerConfig struct {
	Timeout             time.Duration
	MaxConcurrency      int
	SuspiciousThreshold *float64
	HighAmountThreshold int64
}

// RiskScorer annotates entries with an anomaly score. It fails open: any
// problem with the scoring boundary yields the neutral score 0 so money
// movement is never blocked by the model being unavailable.
type RiskScorer struct {
	client   ScoringClient
	cfg      RiskScorerConfig
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewRiskScorer(client ScoringClient, cfg RiskScorerConfig, metrics *observability.Metrics, logger *zap.Logger) *RiskScorer {
	if client == nil {
		client = NoopScoringClient{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 32
	}
	return &RiskScorer{
		client:   client,
		cfg:      cfg,
		bulkhead: resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics:  metrics,
		logger:   logger,
	}
}

// Score never returns an error.
func (s *RiskScorer) Score(ctx context.Context, entry *models.LedgerEntry) models.RiskAssessment {
	features := FeaturesOf(entry)

	score, err := s.fetch(ctx, features)
	if err != nil {
		cause := failureCause(err)
		s.metrics.IncrScoringFailure(cause)
		s.logger.Warn("risk scoring failed, using neutral score",
			zap.String("transaction_id", entry.TransactionID),
			zap.String("account_id", entry.AccountID),
			zap.String("cause", cause),
			zap.Error(err),
		)
		score = 0
	}

	assessment := models.RiskAssessment{
		Score:      score,
		Suspicious: s.cfg.SuspiciousThreshold != nil && score >= *s.cfg.SuspiciousThreshold,
		Reasons:    s.ruleReasons(entry),
	}
	if assessment.Suspicious {
		s.metrics.IncrSuspicious()
	}
	return assessment
}

func (s *RiskScorer) fetch(ctx context.Context, features models.RiskFeatures) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.bulkhead.Acquire(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrScoringUnavailable, err)
	}
	defer s.bulkhead.Release()

	score, err := s.client.Score(ctx, features)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrScoringUnavailable, err)
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("%w: %w: score %v outside [0,1]", models.ErrScoringUnavailable, ErrMalformedScore, score)
	}
	return score, nil
}

// ruleReasons are local heuristics attached to the transaction; they do not
// affect the score.
func (s *RiskScorer) ruleReasons(entry *models.LedgerEntry) []models.ReasonCode {
	var reasons []models.ReasonCode

	if s.cfg.HighAmountThreshold > 0 && entry.Amount > s.cfg.HighAmountThreshold {
		reasons = append(reasons, models.ReasonHighAmount)
	}

	switch strings.ToLower(entry.Category) {
	case "", "others", "uncategorized":
		reasons = append(reasons, models.ReasonUncategorized)
	}

	if hour := entry.Timestamp.UTC().Hour(); hour < 6 || hour > 22 {
		reasons = append(reasons, models.ReasonOddHour)
	}

	return reasons
}

// FeaturesOf builds the snapshot sent to the scoring boundary.
func FeaturesOf(entry *models.LedgerEntry) models.RiskFeatures {
	return models.RiskFeatures{
		Amount:     entry.Amount,
		HourOfDay:  entry.Timestamp.UTC().Hour(),
		Category:   entry.Category,
		AccountID:  entry.AccountID,
		EntryType:  string(entry.Type),
		IsReversal: entry.IsReversal,
	}
}

func failureCause(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrMalformedScore):
		return "malformed"
	default:
		return "unavailable"
	}
}
