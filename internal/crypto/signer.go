package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// EIP-712 type hashes.
var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	// Delivery(string jobId,bytes seed)
	deliveryTypeHash = ethcrypto.Keccak256(
		[]byte("Delivery(string jobId,bytes seed)"),
	)
	// ConfigUpdate(bytes update,uint64 signedAt)
	configUpdateTypeHash = ethcrypto.Keccak256(
		[]byte("ConfigUpdate(bytes update,uint64 signedAt)"),
	)
)

const (
	domainName    = "DrawSettleOracle"
	domainVersion = "1"
	signatureLen  = 65
)

// ErrBadSignature is returned when a signature cannot be decoded or
// recovered.
var ErrBadSignature = errors.New("crypto: bad signature")

// DeliveryDomain is the EIP-712 domain randomness deliveries and owner
// config updates are signed in. Signer and recovery must agree on the
// chain id.
type DeliveryDomain struct {
	separator []byte
}

// NewDeliveryDomain builds the domain separator for chainID.
func NewDeliveryDomain(chainID int64) DeliveryDomain {
	return DeliveryDomain{separator: ethcrypto.Keccak256(
		concatBytes(
			domainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)}
}

// Digest returns the EIP-712 digest of a delivery:
//
//	keccak256("\x19\x01" || domainSeparator || keccak256(typeHash || keccak256(jobId) || keccak256(seed)))
func (d DeliveryDomain) Digest(jobID string, seed []byte) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			deliveryTypeHash,
			ethcrypto.Keccak256([]byte(jobID)),
			ethcrypto.Keccak256(seed),
		),
	)
	return d.typed(structHash)
}

// ConfigDigest returns the EIP-712 digest of an owner config update, where
// update is the exact JSON body being authorised and signedAt is unix
// seconds.
func (d DeliveryDomain) ConfigDigest(update []byte, signedAt int64) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			configUpdateTypeHash,
			ethcrypto.Keccak256(update),
			bigIntTo32Bytes(big.NewInt(signedAt)),
		),
	)
	return d.typed(structHash)
}

func (d DeliveryDomain) typed(structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, d.separator, structHash))
}

// Recover returns the address that signed (jobID, seed). sigHex is the
// 0x-prefixed r || s || v encoding produced by Signer.SignDelivery.
func (d DeliveryDomain) Recover(jobID string, seed []byte, sigHex string) (common.Address, error) {
	return recoverDigest(d.Digest(jobID, seed), sigHex)
}

// RecoverConfigUpdate returns the address that signed (update, signedAt).
func (d DeliveryDomain) RecoverConfigUpdate(update []byte, signedAt int64, sigHex string) (common.Address, error) {
	return recoverDigest(d.ConfigDigest(update, signedAt), sigHex)
}

func recoverDigest(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != signatureLen {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Signer signs randomness deliveries with the oracle key, or config updates
// with an owner key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domain     DeliveryDomain
}

// NewSigner creates a Signer for chainID.
func NewSigner(pk *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domain:     NewDeliveryDomain(chainID),
	}
}

// Address is the identity signatures from this key recover to.
func (s *Signer) Address() common.Address {
	return s.address
}

// Domain returns the signing domain.
func (s *Signer) Domain() DeliveryDomain {
	return s.domain
}

// SignDelivery signs (jobID, seed) and returns the hex-encoded 65-byte
// signature with v in {27, 28}.
func (s *Signer) SignDelivery(jobID string, seed []byte) (string, error) {
	return s.sign(s.domain.Digest(jobID, seed))
}

// SignConfigUpdate signs an owner config update body at signedAt.
func (s *Signer) SignConfigUpdate(update []byte, signedAt int64) (string, error) {
	return s.sign(s.domain.ConfigDigest(update, signedAt))
}

func (s *Signer) sign(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
