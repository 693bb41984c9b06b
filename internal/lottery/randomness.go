package lottery

import (
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// SeedSize is the required length of an oracle seed.
const SeedSize = 32

// digitCutoff is the largest multiple of 10 not above 256; bytes at or above
// it are rejected so every digit is equally likely.
const digitCutoff = 250

// WinningNumber derives TicketDigits uniform digits from a 32-byte seed. The
// seed keys a ChaCha20 keystream with a zero nonce; each keystream byte below
// digitCutoff yields one digit (byte mod 10). The same seed always gives the
// same number.
func WinningNumber(seed []byte) (string, error) {
	if len(seed) != SeedSize {
		return "", fmt.Errorf("seed length %d, want %d: %w", len(seed), SeedSize, domain.ErrInvalidRandomness)
	}
	stream, err := chacha20.NewUnauthenticatedCipher(seed, make([]byte, chacha20.NonceSize))
	if err != nil {
		return "", fmt.Errorf("seed cipher: %w", domain.ErrInvalidRandomness)
	}

	digits := make([]byte, 0, domain.TicketDigits)
	block := make([]byte, 64)
	for len(digits) < domain.TicketDigits {
		clear(block)
		stream.XORKeyStream(block, block)
		for _, b := range block {
			if b >= digitCutoff {
				continue
			}
			digits = append(digits, '0'+b%10)
			if len(digits) == domain.TicketDigits {
				break
			}
		}
	}
	return string(digits), nil
}
