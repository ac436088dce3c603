package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode_WalksWrapChain(t *testing.T) {
	inner := New(CodeAlreadyOwner, "owner already present")
	outer := Wrap(inner, CodeExecutionFailed, "governance call failed")

	assert.True(t, HasCode(outer, CodeExecutionFailed))
	assert.True(t, HasCode(outer, CodeAlreadyOwner))
	assert.False(t, HasCode(outer, CodeNotFound))
}

func TestHasCode_StopsAtForeignError(t *testing.T) {
	err := fmt.Errorf("wrapping: %w", errors.New("plain"))
	assert.False(t, HasCode(err, CodeInternal))
}

func TestCodeOf_ForeignErrorIsInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestWithMeta(t *testing.T) {
	err := New(CodeNotConfirmed, "no confirmation recorded").
		WithMeta("index", "3").
		WithMeta("owner", "0xabc")

	meta := MetaOf(err)
	require.NotNil(t, meta)
	assert.Equal(t, "3", meta["index"])
	assert.Equal(t, "0xabc", meta["owner"])
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeNotOwner:                  http.StatusForbidden,
		CodeNotFound:                  http.StatusNotFound,
		CodeAlreadyExecuted:           http.StatusConflict,
		CodeAlreadyConfirmed:          http.StatusConflict,
		CodeExecutionFailed:           http.StatusConflict,
		CodeThresholdViolation:        http.StatusUnprocessableEntity,
		CodeInsufficientConfirmations: http.StatusUnprocessableEntity,
		CodeInsufficientBalance:       http.StatusUnprocessableEntity,
		CodeMalformedPayload:          http.StatusUnprocessableEntity,
		CodeBadRequest:                http.StatusBadRequest,
		CodeInternal:                  http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), "code %s", code)
	}
}
