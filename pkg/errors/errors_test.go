package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusConflict, MetadataFor(CodeInsufficientStock).HTTPStatus)
	assert.True(t, MetadataFor(CodeInsufficientStock).DetailsAllowed)
	assert.Equal(t, http.StatusUnauthorized, MetadataFor(CodeSignatureInvalid).HTTPStatus)
	assert.True(t, MetadataFor(CodeGateway).Retryable)

	meta := MetadataFor(Code("SOMETHING_ELSE"))
	assert.Equal(t, http.StatusInternalServerError, meta.HTTPStatus)
}

func TestWrapAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "gateway unreachable")

	require.NotNil(t, err)
	assert.Equal(t, CodeDependency, err.Code())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "DEPENDENCY_ERROR: gateway unreachable", err.Error())
}

func TestAsFindsTypedError(t *testing.T) {
	t.Parallel()

	inner := New(CodeInsufficientStock, "product out of stock").
		WithDetails(map[string]any{"available": 2})
	wrapped := Wrap(CodeInternal, inner, "checkout failed")

	typed := As(wrapped)
	require.NotNil(t, typed)
	assert.Equal(t, CodeInternal, typed.Code())

	assert.Nil(t, As(stdErrors.New("plain")))
	assert.True(t, HasCode(inner, CodeInsufficientStock))
	assert.False(t, HasCode(inner, CodeEmptyCart))
}
