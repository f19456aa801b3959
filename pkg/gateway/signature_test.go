package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	secret := "whsec_test"
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)

	assert.True(t, VerifySignature(secret, body, Sign(secret, body)))
	assert.False(t, VerifySignature(secret, body, Sign("other", body)))
	assert.False(t, VerifySignature(secret, []byte("tampered"), Sign(secret, body)))
	assert.False(t, VerifySignature(secret, body, ""))
	assert.False(t, VerifySignature("", body, Sign(secret, body)))
}
