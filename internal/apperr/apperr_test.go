package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("create org: %w", Conflict("slug taken"))

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindConflict))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestGatewayPayload(t *testing.T) {
	t.Run("JSONBodyKeptRaw", func(t *testing.T) {
		err := Gateway("stk push rejected", 400, []byte(`{"errorCode":"400.002.02"}`), nil)
		assert.JSONEq(t, `{"errorCode":"400.002.02"}`, string(err.Payload))
		assert.Equal(t, 400, err.Status)
	})

	t.Run("TextBodyQuoted", func(t *testing.T) {
		err := Gateway("token request failed", 500, []byte("Bad Gateway"), nil)
		assert.Equal(t, `"Bad Gateway"`, string(err.Payload))
	})
}

func TestFieldValidation(t *testing.T) {
	err := FieldValidation("password", "Passwords don't match.")
	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, "Passwords don't match.", err.Fields["password"])
}
