package risk

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/pkg/config"
	"github.com/threadline/settlement-backend/pkg/enums"
	"github.com/threadline/settlement-backend/pkg/types"
)

// Factor names reported in Assessment.Factors.
const (
	FactorAccountAgeUnder7Days  = "account_age_lt_7d"
	FactorAccountAgeUnder30Days = "account_age_lt_30d"
	FactorFirstOrderHighValue   = "first_order_high_value"
	FactorAmountAboveHistory    = "amount_above_history"
	FactorAddressMismatch       = "address_mismatch"
	FactorMissingDeviceID       = "missing_device_id"
	FactorMissingSessionID      = "missing_session_id"
	FactorIPCountryMismatch     = "ip_country_mismatch"
	FactorRetryAttempts         = "retry_attempts"
)

const (
	weightAccountAgeUnder7Days  = 20
	weightAccountAgeUnder30Days = 10
	weightFirstOrderHighValue   = 25
	weightAmountAboveHistory    = 15
	weightAddressMismatch       = 15
	weightMissingDeviceID       = 10
	weightMissingSessionID      = 10
	weightIPCountryMismatch     = 20
	weightPerRetry              = 5

	historyMultiplier = 3
	maxScore          = 100
)

// Policy holds the tunable decision thresholds.
type Policy struct {
	ChallengeThreshold  int
	BlockThreshold      int
	HighValueCents      int64
	MaxRetriesPenalized int
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{ChallengeThreshold: 40, BlockThreshold: 75, HighValueCents: 50000, MaxRetriesPenalized: 4}
}

// PolicyFromConfig maps env configuration onto a Policy.
func PolicyFromConfig(cfg config.RiskConfig) Policy {
	return Policy{
		ChallengeThreshold:  cfg.ChallengeThreshold,
		BlockThreshold:      cfg.BlockThreshold,
		HighValueCents:      cfg.HighValueCents,
		MaxRetriesPenalized: cfg.MaxRetriesPenalized,
	}
}

// Transaction is the prospective payment being scored.
type Transaction struct {
	OrderID         uuid.UUID
	BuyerID         uuid.UUID
	Method          enums.PaymentMethod
	AmountCents     int64
	ShippingAddress *types.Address
	BillingAddress  *types.Address
}

// BuyerProfile summarizes the buyer's account and paid order history.
type BuyerProfile struct {
	AccountCreatedAt  time.Time
	OrderCount        int64
	AverageOrderCents int64
}

// RequestContext carries what the transport layer knows about the caller.
type RequestContext struct {
	IPAddress  string
	IPCountry  string
	DeviceID   string
	SessionID  string
	RetryCount int
}

// Assessment is the scored decision. Score never leaves the server.
type Assessment struct {
	Score   int              `json:"-"`
	Level   enums.RiskLevel  `json:"level"`
	Action  enums.RiskAction `json:"action"`
	Factors []string         `json:"factors"`
}

// Blocked reports whether payment must not proceed.
func (a Assessment) Blocked() bool {
	return a.Action == enums.RiskActionBlock
}

// Challenged reports whether the transaction must be flagged for review.
func (a Assessment) Challenged() bool {
	return a.Action == enums.RiskActionChallenge
}

// Evaluator scores payment attempts. It has no side effects.
type Evaluator struct {
	policy Policy
	now    func() time.Time
}

// NewEvaluator builds an evaluator; a nil clock uses time.Now.
func NewEvaluator(policy Policy, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{policy: policy, now: now}
}

// Evaluate returns the same Assessment for the same inputs and clock reading.
func (e *Evaluator) Evaluate(_ context.Context, txn Transaction, profile BuyerProfile, req RequestContext) Assessment {
	score := 0
	factors := make([]string, 0, 4)
	add := func(factor string, points int) {
		score += points
		factors = append(factors, factor)
	}

	age := e.now().Sub(profile.AccountCreatedAt)
	switch {
	case profile.AccountCreatedAt.IsZero() || age < 7*24*time.Hour:
		add(FactorAccountAgeUnder7Days, weightAccountAgeUnder7Days)
	case age < 30*24*time.Hour:
		add(FactorAccountAgeUnder30Days, weightAccountAgeUnder30Days)
	}

	if profile.OrderCount == 0 && e.policy.HighValueCents > 0 && txn.AmountCents >= e.policy.HighValueCents {
		add(FactorFirstOrderHighValue, weightFirstOrderHighValue)
	}
	if profile.OrderCount > 0 && profile.AverageOrderCents > 0 && txn.AmountCents > historyMultiplier*profile.AverageOrderCents {
		add(FactorAmountAboveHistory, weightAmountAboveHistory)
	}

	if txn.BillingAddress != nil && txn.ShippingAddress != nil && !txn.BillingAddress.SameLocation(*txn.ShippingAddress) {
		add(FactorAddressMismatch, weightAddressMismatch)
	}

	if strings.TrimSpace(req.DeviceID) == "" {
		add(FactorMissingDeviceID, weightMissingDeviceID)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		add(FactorMissingSessionID, weightMissingSessionID)
	}
	if country := strings.TrimSpace(req.IPCountry); country != "" && txn.ShippingAddress != nil {
		declared := strings.TrimSpace(txn.ShippingAddress.Country)
		if declared != "" && !strings.EqualFold(country, declared) {
			add(FactorIPCountryMismatch, weightIPCountryMismatch)
		}
	}

	if retries := req.RetryCount; retries > 0 {
		if e.policy.MaxRetriesPenalized > 0 && retries > e.policy.MaxRetriesPenalized {
			retries = e.policy.MaxRetriesPenalized
		}
		add(FactorRetryAttempts, retries*weightPerRetry)
	}

	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}
	level, action := e.classify(score)
	return Assessment{Score: score, Level: level, Action: action, Factors: factors}
}

func (e *Evaluator) classify(score int) (enums.RiskLevel, enums.RiskAction) {
	switch {
	case score >= e.policy.BlockThreshold:
		return enums.RiskLevelHigh, enums.RiskActionBlock
	case score >= e.policy.ChallengeThreshold:
		return enums.RiskLevelMedium, enums.RiskActionChallenge
	default:
		return enums.RiskLevelLow, enums.RiskActionAllow
	}
}
