package errkind

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{Unauthenticated, http.StatusUnauthorized},
		{InvalidRequest, http.StatusBadRequest},
		{RateLimited, http.StatusTooManyRequests},
		{Generation, http.StatusBadGateway},
		{Storage, http.StatusInternalServerError},
		{Unknown, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.kind.HTTPStatus())
		})
	}
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(Storage, nil, "ignored"))

	cause := errors.New("pq: connection refused")
	err := Wrap(Storage, cause, "Failed to save message to database")
	require.Error(t, err)
	assert.Equal(t, "Failed to save message to database: pq: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, Storage))
	assert.False(t, Is(err, Generation))
}

func TestOf_FindsKindThroughWrapping(t *testing.T) {
	err := errors.Wrap(New(Unauthenticated, "Authentication required"), "handler")
	assert.Equal(t, Unauthenticated, Of(err))
	assert.Equal(t, Unknown, Of(errors.New("plain")))
	assert.Equal(t, Unknown, Of(nil))
	assert.False(t, Is(nil, Unknown))
}

func TestMessage_HidesCause(t *testing.T) {
	err := Wrap(Storage, errors.New("dial tcp 10.0.0.3:5432"), "Failed to update message in database")
	assert.Equal(t, "Failed to update message in database", Message(err))
	assert.Equal(t, "Internal server error", Message(errors.New("secret detail")))
}
