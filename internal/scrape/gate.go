package scrape

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// DefaultEntitlementSignatures match the platform's "actor not rented" failure.
var DefaultEntitlementSignatures = []string{"actor-is-not-rented", "rent a paid actor"}

// Decision is the outcome of a preflight check.
type Decision struct {
	Proceed bool   `json:"proceed"`
	Reason  string `json:"reason"`
	Error   string `json:"error,omitempty"`
}

// Preflight decision reasons.
const (
	ReasonTrialOK      = "trial succeeded"
	ReasonNoSample     = "no sample url"
	ReasonEntitlement  = "not entitled"
	ReasonTransient    = "trial failed; treated as transient"
	ReasonAlreadyGated = "disabled earlier in run"
)

// Gate decides whether the reviews stage runs. One Gate is created per run;
// once disabled it stays disabled for that run.
type Gate struct {
	actors     market.ActorRunner
	actorID    string
	maxReviews int
	signatures []string
	logger     *zap.Logger

	disabled atomic.Bool
	mu       sync.Mutex
	reason   string
}

// NewGate builds a Gate that trials actorID. Empty signatures fall back to
// DefaultEntitlementSignatures.
func NewGate(actors market.ActorRunner, actorID string, maxReviews int, signatures []string, logger *zap.Logger) *Gate {
	if len(signatures) == 0 {
		signatures = DefaultEntitlementSignatures
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		actors:     actors,
		actorID:    actorID,
		maxReviews: maxReviews,
		signatures: append([]string(nil), signatures...),
		logger:     logger,
	}
}

// Check runs a single-URL trial. Only an entitlement failure disables the
// stage; any other failure lets it proceed.
func (g *Gate) Check(ctx context.Context, sampleURL string) Decision {
	if g.Disabled() {
		return Decision{Proceed: false, Reason: ReasonAlreadyGated, Error: g.Reason()}
	}
	if strings.TrimSpace(sampleURL) == "" {
		return Decision{Proceed: true, Reason: ReasonNoSample}
	}

	_, err := g.actors.Start(ctx, g.actorID, ActorInput(market.StageReviews, []string{sampleURL}, g.maxReviews))
	if err == nil {
		g.logger.Info("review preflight passed", zap.String("sample_url", sampleURL))
		return Decision{Proceed: true, Reason: ReasonTrialOK}
	}
	if g.Trip(err) {
		g.logger.Warn("review stage disabled by preflight", zap.Error(err))
		return Decision{Proceed: false, Reason: ReasonEntitlement, Error: err.Error()}
	}
	g.logger.Warn("review preflight failed, proceeding", zap.Error(err))
	return Decision{Proceed: true, Reason: ReasonTransient, Error: err.Error()}
}

// Trip disables the gate when err carries an entitlement signature and
// reports whether it did.
func (g *Gate) Trip(err error) bool {
	if g == nil || !IsEntitlementError(err, g.signatures) {
		return false
	}
	g.mu.Lock()
	if g.reason == "" {
		g.reason = err.Error()
	}
	g.mu.Unlock()
	g.disabled.Store(true)
	return true
}

// Disabled reports whether the reviews stage is off for this run.
func (g *Gate) Disabled() bool {
	return g != nil && g.disabled.Load()
}

// Reason is the error text that disabled the gate.
func (g *Gate) Reason() string {
	if g == nil {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// IsEntitlementError reports whether err's message contains any signature,
// case-insensitively. Context errors never match.
func IsEntitlementError(err error, signatures []string) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range signatures {
		sig = strings.ToLower(strings.TrimSpace(sig))
		if sig != "" && strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
