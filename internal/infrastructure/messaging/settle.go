package messaging

import (
	"errors"
	"fmt"

	"github.com/hilthontt/socialbook/internal/infrastructure/contracts"
)

// Disposition is what the runtime does with a delivery once the handler returns.
type Disposition int

const (
	Ack Disposition = iota
	Reject
	Requeue
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// Classify maps a handler result onto a settlement.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, contracts.ErrMalformedPayload):
		return Reject
	default:
		return Requeue
	}
}

// Malformed marks err as permanent so the delivery is rejected instead of requeued.
func Malformed(err error) error {
	if err == nil {
		err = errors.New("unprocessable message")
	}
	if errors.Is(err, contracts.ErrMalformedPayload) {
		return err
	}
	return fmt.Errorf("%w: %w", contracts.ErrMalformedPayload, err)
}
