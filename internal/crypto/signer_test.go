package crypto

import (
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat's first default account.
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())

	_, err = NewSigner("0x1234")
	require.Error(t, err)
}

func TestRecoverRequest(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	body := []byte(`{"make_prediction":{"up":true}}`)

	sig, err := s.SignRequest(body, 1_650_000_000)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	addr, err := RecoverRequest(body, 1_650_000_000, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other, err := RecoverRequest([]byte(`{"make_prediction":{"up":false}}`), 1_650_000_000, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	_, err = RecoverRequest(body, 1_650_000_000, "0xdeadbeef")
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifier(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	now := time.Unix(1_650_000_000, 0)
	v := &Verifier{MaxSkew: time.Minute, Now: func() time.Time { return now }}
	body := []byte(`{"resolve_prediction":{}}`)

	ts := now.Add(-30 * time.Second).Unix()
	sig, err := s.SignRequest(body, ts)
	require.NoError(t, err)
	require.NoError(t, v.Verify(s.Address(), body, strconv.FormatInt(ts, 10), sig))

	err = v.Verify(common.HexToAddress("0x1"), body, strconv.FormatInt(ts, 10), sig)
	require.ErrorIs(t, err, ErrBadSignature)

	old := now.Add(-2 * time.Minute).Unix()
	oldSig, err := s.SignRequest(body, old)
	require.NoError(t, err)
	require.ErrorIs(t, v.Verify(s.Address(), body, strconv.FormatInt(old, 10), oldSig), ErrStaleRequest)

	require.ErrorIs(t, v.Verify(s.Address(), body, "yesterday", sig), ErrBadSignature)
}
