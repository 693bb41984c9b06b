package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test key (hardhat account #0).
const testKeyHex = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestSignAndRecoverDelivery(t *testing.T) {
	pk, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	s := NewSigner(pk, 1)
	assert.Equal(t, testAddr, s.Address().Hex())

	seed := make([]byte, 32)
	sig, err := s.SignDelivery("7", seed)
	require.NoError(t, err)
	assert.Len(t, sig, 2+2*signatureLen)

	got, err := s.Domain().Recover("7", seed, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	// Another job id or seed recovers some other address.
	other, err := s.Domain().Recover("8", seed, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	// Another chain id is another domain.
	other, err = NewDeliveryDomain(2).Recover("7", seed, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}

func TestSignAndRecoverConfigUpdate(t *testing.T) {
	pk, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	s := NewSigner(pk, 1)

	body := []byte(`{"max_tickets_per_user":9}`)
	sig, err := s.SignConfigUpdate(body, 1767268800)
	require.NoError(t, err)

	got, err := s.Domain().RecoverConfigUpdate(body, 1767268800, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	// Any change to the body or timestamp recovers another address.
	other, err := s.Domain().RecoverConfigUpdate([]byte(`{"max_tickets_per_user":90}`), 1767268800, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
	other, err = s.Domain().RecoverConfigUpdate(body, 1767268801, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	// A delivery signature is not a config signature.
	del, err := s.SignDelivery("7", body)
	require.NoError(t, err)
	other, err = s.Domain().RecoverConfigUpdate(body, 1767268800, del)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	_, err = s.Domain().RecoverConfigUpdate(body, 1767268800, "0x")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestRecoverRejectsMalformed(t *testing.T) {
	d := NewDeliveryDomain(1)
	for _, sig := range []string{"", "0x", "0xzz", "0x" + string(make([]byte, 10))} {
		_, err := d.Recover("1", nil, sig)
		assert.ErrorIs(t, err, ErrBadSignature, sig)
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	pk, err := ParseKey(testKeyHex)
	require.NoError(t, err)

	blob, err := EncryptKey(pk, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), testAddr)

	back, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, KeyHex(pk), KeyHex(back))

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
	_, err = EncryptKey(pk, "")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKey)

	pk, err := LoadKey(KeyConfig{RawPrivateKey: testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex[2:], KeyHex(pk))

	_, err = LoadKey(KeyConfig{RawPrivateKey: "0xnothex"})
	assert.Error(t, err)
}

func TestHMACVerify(t *testing.T) {
	h := &HMACAuth{Key: "key", Secret: "secret"}
	now := time.Unix(1_700_000_000, 0)
	hdr := h.HeadersAt("POST", "/v1/requests", `{"job_id":"1"}`, now.Unix())

	require.NoError(t, h.Verify("POST", "/v1/requests", `{"job_id":"1"}`,
		hdr[HeaderTimestamp], hdr[HeaderSignature], now.Add(10*time.Second), time.Minute))

	err := h.Verify("POST", "/v1/requests", `{"job_id":"2"}`,
		hdr[HeaderTimestamp], hdr[HeaderSignature], now, time.Minute)
	assert.ErrorIs(t, err, ErrBadHMAC)

	err = h.Verify("POST", "/v1/requests", `{"job_id":"1"}`,
		hdr[HeaderTimestamp], hdr[HeaderSignature], now.Add(time.Hour), time.Minute)
	assert.ErrorIs(t, err, ErrStaleRequest)

	assert.Equal(t, "HMACAuth{key=****, secret=secr****}", h.String())
}
