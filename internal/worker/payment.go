package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"orderproc/internal/models"
)

// ErrPaymentDeclined is returned by a gateway when the payment
// side-effect itself fails in a way the worker should treat as
// transient (spec.md §4.3): the caller may retry, backoff applies.
var ErrPaymentDeclined = errors.New("payment gateway timeout - please retry")

// Gateway is the pluggable payment side-effect seam. It is
// deliberately narrow: charging is an external collaborator's
// responsibility (spec.md §1 Non-goals), so the worker only needs a
// yes/no verdict for a given order.
type Gateway interface {
	Charge(ctx context.Context, order *models.Order) error
}

// NoopGateway always succeeds. It is the production default until a
// real payment provider is wired in — order confirmation is gated on
// stock reservation, not on payment, per spec.md §1.
type NoopGateway struct{}

func (NoopGateway) Charge(context.Context, *models.Order) error { return nil }

// SimulatedGateway fails a configurable fraction of charges to
// exercise the transient-retry path in dev and test environments.
// Failure is injected via config, never via build tags, so the same
// binary runs in every environment.
type SimulatedGateway struct {
	FailureProbability float64
	mu                 sync.Mutex
	rand               *rand.Rand
}

func NewSimulatedGateway(failureProbability float64) *SimulatedGateway {
	return &SimulatedGateway{
		FailureProbability: failureProbability,
		rand:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSimulatedGatewayWithSeed pins the RNG seed for deterministic
// tests of the retry path.
func NewSimulatedGatewayWithSeed(failureProbability float64, seed int64) *SimulatedGateway {
	return &SimulatedGateway{
		FailureProbability: failureProbability,
		rand:               rand.New(rand.NewSource(seed)),
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, order *models.Order) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	g.mu.Lock()
	roll := g.rand.Float64()
	g.mu.Unlock()
	if roll < g.FailureProbability {
		return ErrPaymentDeclined
	}
	return nil
}
