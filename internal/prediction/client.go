// Package prediction obtains risk predictions from the external model
// service.
package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/heartrisk-server/internal/domain"
)

// DefaultThreshold is the probability at or above which a submission is
// classified as HighRisk.
const DefaultThreshold = 0.5

// Prediction is the outcome returned by the model service.
type Prediction struct {
	Probability float64          `json:"probability"`
	Risk        domain.RiskLevel `json:"risk"`
	Confidence  float64          `json:"confidence"`
}

// Predictor produces a prediction for a validated submission.
type Predictor interface {
	Predict(ctx context.Context, features map[string]any) (*Prediction, error)
}

type predictRequest struct {
	Features map[string]any `json:"features"`
}

type predictResponse struct {
	Probability *float64 `json:"probability"`
}

// Client calls the model service with rate limiting, a circuit breaker and
// an optional cache.
type Client struct {
	http      *resty.Client
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	cache     *Cache
	threshold float64
	log       *logrus.Logger
}

// NewClient creates a prediction client. cache may be nil.
func NewClient(config domain.PredictionConfig, cache *Cache, logger *logrus.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	threshold := config.Threshold
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}

	httpClient := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(config.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() >= 500
		})
	if config.APIKey != "" {
		httpClient.SetAuthToken(config.APIKey)
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "prediction",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Client{
		http:      httpClient,
		breaker:   breaker,
		limiter:   rate.NewLimiter(limit, max(config.RateLimit, 1)),
		cache:     cache,
		threshold: threshold,
		log:       logger,
	}
}

// Predict returns the risk prediction for features. Failures of the model
// service are wrapped with domain.ErrPredictionUnavailable.
func (c *Client) Predict(ctx context.Context, features map[string]any) (*Prediction, error) {
	var key string
	if c.cache != nil {
		k, err := Key(features)
		if err != nil {
			return nil, err
		}
		key = k
		if p, ok := c.cache.Get(ctx, key); ok {
			c.log.WithField("cache_key", key).Debug("Prediction cache hit")
			return p, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", domain.ErrPredictionUnavailable, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, features)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open", domain.ErrPredictionUnavailable)
		}
		return nil, err
	}

	probability := result.(float64)
	risk, confidence := Classify(probability, c.threshold)
	p := &Prediction{
		Probability: probability,
		Risk:        risk,
		Confidence:  confidence,
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, p); err != nil {
			// Log cache error but don't fail the request
			c.log.WithError(err).Warn("Failed to cache prediction")
		}
	}

	c.log.WithFields(logrus.Fields{
		"prediction": risk.String(),
		"confidence": confidence,
	}).Debug("Prediction received")

	return p, nil
}

func (c *Client) call(ctx context.Context, features map[string]any) (float64, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(predictRequest{Features: features}).
		Post("/predict")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPredictionUnavailable, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("%w: model service returned status %d", domain.ErrPredictionUnavailable, resp.StatusCode())
	}

	var out predictResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return 0, fmt.Errorf("%w: decoding response: %v", domain.ErrPredictionUnavailable, err)
	}
	if out.Probability == nil {
		return 0, fmt.Errorf("%w: response has no probability", domain.ErrPredictionUnavailable)
	}
	p := *out.Probability
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: probability %g outside [0, 1]", domain.ErrPredictionUnavailable, p)
	}
	return p, nil
}

// Classify maps a probability to a risk level and the confidence in that
// level, rounded to four decimals.
func Classify(probability, threshold float64) (domain.RiskLevel, float64) {
	if probability >= threshold {
		return domain.HighRisk, round4(probability)
	}
	return domain.LowRisk, round4(1 - probability)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
