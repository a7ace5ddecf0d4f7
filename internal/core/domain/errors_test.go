package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf_Sentinels(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{ErrNotInRoom, CodeNotInRoom},
		{ErrRoomFull, CodeRoomFull},
		{ErrRoomNotFound, CodeRoomNotFound},
		{ErrInvalidMessage, CodeInvalidMessage},
		{ErrRouterNotFound, CodeRouterNotFound},
		{ErrTransportNotFound, CodeTransportNotFound},
		{ErrWrongTransportDirection, CodeWrongTransportDirection},
		{ErrProducerNotFound, CodeProducerNotFound},
		{ErrConsumerNotFound, CodeConsumerNotFound},
		{ErrIncompatibleCodec, CodeIncompatibleCodec},
		{ErrNoWorkersAvailable, CodeNoWorkersAvailable},
		{ErrTransportCreateFailed, CodeTransportCreateFailed},
		{ErrProduceFailed, CodeProduceFailed},
		{ErrConsumeFailed, CodeConsumeFailed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, CodeOf(tc.err), tc.err.Error())
	}
}

func TestCodeOf_WrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("consume for producer %s: %w", "p-1", ErrIncompatibleCodec)
	assert.Equal(t, CodeIncompatibleCodec, CodeOf(wrapped))

	deep := fmt.Errorf("handler: %w", fmt.Errorf("registry: %w", ErrRoomFull))
	assert.Equal(t, CodeRoomFull, CodeOf(deep))
}

func TestCodeOf_UnknownErrorFallsBackToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("redis connection refused")))
	assert.Equal(t, CodeInternal, CodeOf(nil))
}
