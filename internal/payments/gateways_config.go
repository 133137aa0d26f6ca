package payments

import (
	"context"

	"github.com/threadline/settlement-backend/pkg/config"
	"github.com/threadline/settlement-backend/pkg/enums"
	"github.com/threadline/settlement-backend/pkg/logger"
	"github.com/threadline/settlement-backend/pkg/square"
)

// GatewaysFromConfig routes card payments to Square when it is configured and
// every manual method to the offline gateway. Without Square credentials card
// payments fall back to manual confirmation.
func GatewaysFromConfig(ctx context.Context, cfg *config.Config, logg *logger.Logger) (Registry, error) {
	manual := NewManualGateway()
	routes := map[enums.PaymentMethod]Gateway{}
	for _, raw := range cfg.Payments.ManualMethods() {
		method, err := enums.ParsePaymentMethod(raw)
		if err != nil {
			return nil, err
		}
		routes[method] = manual
	}

	if !cfg.Square.Enabled() {
		if logg != nil {
			logg.Warn(ctx, "square not configured, card payments require manual confirmation")
		}
		routes[enums.PaymentMethodCard] = manual
		return NewRegistry(routes)
	}

	client, err := square.NewClient(ctx, cfg.Square, logg)
	if err != nil {
		return nil, err
	}
	card, err := NewSquareGateway(client)
	if err != nil {
		return nil, err
	}
	routes[enums.PaymentMethodCard] = card
	return NewRegistry(routes)
}
