package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "custodia/pkg/domain-errors"
)

func TestParseWalletID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseWalletID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		_, err := ParseWalletID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects the nil UUID", func(t *testing.T) {
		_, err := ParseWalletID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("accepts and round-trips a valid UUID", func(t *testing.T) {
		raw := uuid.New()
		id, err := ParseWalletID(raw.String())
		require.NoError(t, err)
		assert.Equal(t, WalletID(raw), id)
		assert.Equal(t, raw.String(), id.String())
		assert.False(t, id.IsZero())
	})
}

func TestWalletID_IsZero(t *testing.T) {
	var zero WalletID
	assert.True(t, zero.IsZero())
	assert.False(t, NewWalletID().IsZero())
}

func TestWalletID_JSONRoundTrip(t *testing.T) {
	id := NewWalletID()

	raw, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(raw))

	var decoded WalletID
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, id, decoded)

	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`"`+uuid.Nil.String()+`"`), &decoded))
}
