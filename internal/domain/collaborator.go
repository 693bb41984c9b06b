package domain

import "context"

// Ledger moves value to a recipient.
type Ledger interface {
	Transfer(ctx context.Context, to Identity, amount Coin) error
}

// RandomnessOracle accepts randomness requests. Delivery comes back later as
// a separate call into the engine.
type RandomnessOracle interface {
	RequestRandomness(ctx context.Context, jobID string, fee Funds) error
}

// IdentityValidator turns a free-form address string into an Identity.
type IdentityValidator interface {
	Validate(raw string) (Identity, error)
}
