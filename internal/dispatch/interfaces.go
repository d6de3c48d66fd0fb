package dispatch

import (
	"context"
	"errors"

	"swaprelay/internal/contract"
)

// ErrInvalidEnvelope marks envelopes no retry can deliver.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Client hands an envelope to whatever runs scheduled jobs on the remote chain.
// Success only means the hand-off was accepted, not that the remote call succeeded.
type Client interface {
	Dispatch(ctx context.Context, env contract.Envelope) (Receipt, error)
}

// HealthChecker is implemented by clients with a remote dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Receipt struct {
	ID     string `json:"id"`
	TxHash string `json:"txHash,omitempty"`
}
