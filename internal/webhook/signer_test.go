package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSignature(t *testing.T) {
	payload := []byte(`{"type":"order.created","id":"01J"}`)
	sig := GenerateSignature("ckd_whsec_test", 1736600000, payload)

	mac := hmac.New(sha256.New, []byte("ckd_whsec_test"))
	mac.Write([]byte(`1736600000.{"type":"order.created","id":"01J"}`))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)

	assert.Len(t, sig, 64)
	assert.NotEqual(t, sig, GenerateSignature("ckd_whsec_test", 1736600001, payload))
	assert.NotEqual(t, sig, GenerateSignature("ckd_whsec_other", 1736600000, payload))
}

func TestValidateSignature(t *testing.T) {
	secret := "ckd_whsec_test"
	now := time.Unix(1736600000, 0)
	payload := []byte(`{"test":"data"}`)
	ts := now.Unix()

	tests := []struct {
		name      string
		signature string
		timestamp int64
		wantErr   error
	}{
		{"valid", GenerateSignature(secret, ts, payload), ts, nil},
		{"tampered", "deadbeef", ts, ErrInvalidSignature},
		{"old", GenerateSignature(secret, ts-600, payload), ts - 600, ErrReplayWindowExceeded},
		{"future", GenerateSignature(secret, ts+600, payload), ts + 600, ErrReplayWindowExceeded},
		{"inside window", GenerateSignature(secret, ts-60, payload), ts - 60, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSignatureAt(now, secret, tt.signature, tt.timestamp, payload, DefaultReplayWindow)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSignature_Now(t *testing.T) {
	ts := time.Now().Unix()
	payload := []byte(`{}`)
	require.NoError(t, ValidateSignature("s", GenerateSignature("s", ts, payload), ts, payload, DefaultReplayWindow))
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, SecretPrefix))
	assert.Len(t, a, len(SecretPrefix)+64)
	assert.NotEqual(t, a, b)
}
