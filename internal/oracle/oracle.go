// Package oracle connects the engine to a randomness provider. ProxyClient
// forwards requests to a remote proxy over HTTP; LocalOracle produces and
// signs seeds in process for development. Deliveries from either come back
// through the same Verifier, which attributes them to the signing address.
package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/drawsettle/internal/crypto"
	"github.com/alanyoungcy/drawsettle/internal/domain"
	"github.com/alanyoungcy/drawsettle/internal/identity"
)

// Delivery is a signed randomness result as it travels over the wire.
type Delivery struct {
	JobID     string `json:"job_id"`
	Seed      string `json:"seed"`
	Signature string `json:"signature"`
}

// Deliverer accepts verified randomness; *lottery.Engine implements it.
type Deliverer interface {
	DeliverRandomness(ctx context.Context, jobID string, sender domain.Identity, seed []byte) (domain.Draw, error)
}

// ErrMalformedDelivery is returned for deliveries that cannot be decoded.
var ErrMalformedDelivery = errors.New("oracle: malformed delivery")

// Verifier recovers the sender of a delivery from its signature. Whether
// that sender is the configured oracle is the engine's decision.
type Verifier struct {
	domain crypto.DeliveryDomain
}

// NewVerifier creates a Verifier for deliveries signed on chainID.
func NewVerifier(chainID int64) *Verifier {
	return &Verifier{domain: crypto.NewDeliveryDomain(chainID)}
}

// Open decodes the seed and returns it with the recovered sender.
func (v *Verifier) Open(d Delivery) (domain.Identity, []byte, error) {
	if d.JobID == "" {
		return "", nil, fmt.Errorf("%w: empty job id", ErrMalformedDelivery)
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(d.Seed, "0x"))
	if err != nil {
		return "", nil, fmt.Errorf("%w: seed: %v", ErrMalformedDelivery, err)
	}
	addr, err := v.domain.Recover(d.JobID, seed, d.Signature)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrMalformedDelivery, err)
	}
	return identity.FromAddress(addr), seed, nil
}

// Deliver verifies d and hands it to dst.
func (v *Verifier) Deliver(ctx context.Context, dst Deliverer, d Delivery) (domain.Draw, error) {
	sender, seed, err := v.Open(d)
	if err != nil {
		return domain.Draw{}, err
	}
	return dst.DeliverRandomness(ctx, d.JobID, sender, seed)
}

// Seal signs seed for jobID and returns the wire form.
func Seal(s *crypto.Signer, jobID string, seed []byte) (Delivery, error) {
	sig, err := s.SignDelivery(jobID, seed)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{
		JobID:     jobID,
		Seed:      "0x" + hex.EncodeToString(seed),
		Signature: sig,
	}, nil
}
