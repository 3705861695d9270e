package payment

import (
	"github.com/smallbiznis/vetclinic/internal/config"
	"github.com/smallbiznis/vetclinic/internal/payment/adapters"
	"github.com/smallbiznis/vetclinic/internal/payment/adapters/stripe"
	"github.com/smallbiznis/vetclinic/internal/payment/domain"
	"github.com/smallbiznis/vetclinic/internal/payment/repository"
	paymentservice "github.com/smallbiznis/vetclinic/internal/payment/service"
	"github.com/smallbiznis/vetclinic/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(NewProcessor),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

// NewProcessor builds the configured processor adapter.
func NewProcessor(registry *adapters.Registry, cfg config.Config) (domain.Processor, error) {
	return registry.NewAdapter("stripe", domain.AdapterConfig{
		Config: map[string]any{
			"secret_key":     cfg.Stripe.SecretKey,
			"webhook_secret": cfg.Stripe.WebhookSecret,
			"base_url":       cfg.Stripe.BaseURL,
		},
	})
}
