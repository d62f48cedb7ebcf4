package sonic

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec("secret")
	payload := Payload{
		From:      uuid.New(),
		Amount:    12_500,
		Currency:  "SYP",
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
		Nonce:     "abc123",
	}

	token, err := codec.Encode(payload)
	require.NoError(t, err)

	decoded, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, payload.From, decoded.From)
	assert.Equal(t, payload.Amount, decoded.Amount)
	assert.Equal(t, payload.Nonce, decoded.Nonce)
}

func TestCodec_DecodeRejectsTampering(t *testing.T) {
	codec := NewCodec("secret")
	token, err := codec.Encode(Payload{From: uuid.New(), Amount: 100, Currency: "SYP", ExpiresAt: time.Now().Add(time.Hour), Nonce: "n"})
	require.NoError(t, err)

	body, sig, _ := strings.Cut(token, ".")

	cases := map[string]string{
		"no separator":  body,
		"swapped body":  "AAAA" + "." + sig,
		"truncated sig": body + "." + sig[:len(sig)-2],
		"empty":         "",
	}
	for name, tampered := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode(tampered)
			assert.ErrorIs(t, err, shared.ErrInvalidSignature)
		})
	}
}

func TestConfirmation(t *testing.T) {
	hash := Hash("some-token")
	code := Confirmation(hash)

	assert.Len(t, code, 8)
	assert.Equal(t, strings.ToUpper(hash[:8]), code)
	assert.Equal(t, code, Confirmation(hash)) // stable
}
