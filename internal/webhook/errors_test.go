package webhook

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseFailure(t *testing.T) {
	tests := []struct {
		status    int
		wantFinal bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusGone, true},
		{http.StatusTooManyRequests, false},
		{http.StatusServiceUnavailable, false},
		{http.StatusMovedPermanently, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := responseFailure(tt.status)
			assert.Equal(t, tt.wantFinal, f.Final)
			require.NotNil(t, f.statusPtr())
			assert.Equal(t, tt.status, *f.statusPtr())
			assert.EqualError(t, f, f.Reason)
		})
	}
}

func TestDeliveryError_WithoutResponse(t *testing.T) {
	f := transportFailure("send", errors.New("connection refused"))
	assert.Nil(t, f.statusPtr())
	assert.False(t, f.Final)
	assert.Equal(t, "send: connection refused", f.Error())

	gone := endpointGone("endpoint disabled")
	assert.Nil(t, gone.statusPtr())
	assert.True(t, gone.Final)
}
