package risk

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/logger"
	"github.com/threadline/settlement-backend/pkg/metrics"
	"github.com/threadline/settlement-backend/pkg/outbox"
	"github.com/threadline/settlement-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Gate runs the evaluator against stored buyer history and enforces block decisions.
type Gate struct {
	repo      Repository
	evaluator *Evaluator
	tx        txRunner
	outbox    outboxPublisher
	metrics   *metrics.SettlementMetrics
	logg      *logger.Logger
}

// NewGate wires the risk gate. metrics may be nil.
func NewGate(repo Repository, evaluator *Evaluator, tx txRunner, publisher outboxPublisher, m *metrics.SettlementMetrics, logg *logger.Logger) (*Gate, error) {
	if repo == nil {
		return nil, fmt.Errorf("risk repository required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("risk evaluator required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Gate{repo: repo, evaluator: evaluator, tx: tx, outbox: publisher, metrics: m, logg: logg}, nil
}

// Check scores txn. A block decision is persisted as an audit row in its own
// committed transaction, so it survives the caller's rollback, and is returned
// as RISK_BLOCKED together with the assessment.
func (g *Gate) Check(ctx context.Context, txn Transaction, req RequestContext) (Assessment, error) {
	profile, err := g.repo.BuyerProfile(ctx, txn.BuyerID)
	if err != nil {
		return Assessment{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load buyer profile")
	}
	assessment := g.evaluator.Evaluate(ctx, txn, profile, req)
	g.metrics.ObserveRiskDecision(assessment.Action.String(), assessment.Score)

	logCtx := g.logg.WithFields(ctx, map[string]any{
		"order_id":   txn.OrderID.String(),
		"buyer_id":   txn.BuyerID.String(),
		"method":     txn.Method,
		"risk_score": assessment.Score,
		"risk_level": assessment.Level,
		"factors":    strings.Join(assessment.Factors, ","),
	})

	switch assessment.Action {
	case enums.RiskActionBlock:
		if err := g.recordBlock(ctx, txn, req, assessment); err != nil {
			return assessment, err
		}
		g.logg.Warn(logCtx, "risk.blocked")
		return assessment, pkgerrors.New(pkgerrors.CodeRiskBlocked, "payment could not be processed")
	case enums.RiskActionChallenge:
		g.logg.Info(logCtx, "risk.challenged")
	default:
		g.logg.Debug(logCtx, "risk.allowed")
	}
	return assessment, nil
}

func (g *Gate) recordBlock(ctx context.Context, txn Transaction, req RequestContext, assessment Assessment) error {
	row := &models.RiskAssessment{
		OrderID: txn.OrderID,
		BuyerID: txn.BuyerID,
		Method:  txn.Method,
		Score:   assessment.Score,
		Level:   assessment.Level,
		Action:  assessment.Action,
		Factors: assessment.Factors,
	}
	if ip := strings.TrimSpace(req.IPAddress); ip != "" {
		row.IPAddress = &ip
	}
	err := g.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := g.repo.WithTx(tx).SaveAssessment(ctx, row); err != nil {
			return err
		}
		return g.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRiskBlocked,
			AggregateType: enums.AggregateOrder,
			AggregateID:   txn.OrderID,
			Actor:         &outbox.ActorRef{UserID: txn.BuyerID, Role: enums.RoleBuyer.String()},
			Data: payloads.RiskBlockedEvent{
				AssessmentID: row.ID,
				OrderID:      txn.OrderID,
				BuyerID:      txn.BuyerID,
				Method:       txn.Method,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record blocked attempt")
	}
	return nil
}
