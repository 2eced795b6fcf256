package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAMQPError(t *testing.T) {
	err := &AMQPError{
		Code:    NotFound,
		Message: "Resource not found",
		Method:  "queue.declare",
	}

	assert.Equal(t, "AMQP Error 404 in queue.declare: Resource not found", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestAMQPErrorWithoutMethod(t *testing.T) {
	err := &AMQPError{
		Code:    InternalError,
		Message: "Internal server error",
	}

	assert.Equal(t, "AMQP Error 541: Internal server error", err.Error())
}

func TestCodeName(t *testing.T) {
	assert.Equal(t, "NOT_FOUND", CodeName(NotFound))
	assert.Equal(t, "PRECONDITION_FAILED", CodeName(PreconditionFailed))
	assert.Equal(t, "UNKNOWN_999", CodeName(999))
}

func TestAllocationErrorMessages(t *testing.T) {
	tests := []struct {
		err  *AllocationError
		want string
		kind error
	}{
		{NewDuplicateID(11), "channel id 11 already in use", ErrDuplicateID},
		{NewIDOutOfRange(65536), "channel id 65536 too high", ErrIDOutOfRange},
		{NewIDOutOfRange(0), "channel id 0 too low", ErrIDOutOfRange},
		{NewIDOutOfRange(-3), "channel id -3 too low", ErrIDOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, tt.err, tt.kind)
		})
	}
}

func TestProtocolError(t *testing.T) {
	err := FromChannelClose(3, NotFound, "NOT_FOUND - no queue 'missing'", 50, 10, "queue.declare")

	assert.Equal(t, "channel 3: AMQP Error 404 in queue.declare: NOT_FOUND - no queue 'missing'", err.Error())
	assert.ErrorIs(t, err, ErrProtocol)
	assert.True(t, IsProtocolError(err))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsPreconditionFailed(err))

	wrapped := fmt.Errorf("declare failed: %w", err)
	assert.Equal(t, NotFound, GetErrorCode(wrapped))

	var amqpErr *AMQPError
	require.True(t, errors.As(wrapped, &amqpErr))
	assert.Equal(t, "queue.declare", amqpErr.Method)
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{ChannelID: 7, Method: "queue.declare", After: 10 * time.Second}

	assert.Equal(t, "channel 7: queue.declare timed out after 10s", err.Error())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	expired := &TimeoutError{ChannelID: 7, Method: "queue.declare", Cause: context.DeadlineExceeded}
	assert.Equal(t, "channel 7: queue.declare abandoned awaiting reply: context deadline exceeded", expired.Error())
	assert.ErrorIs(t, expired, ErrTimeout)
	assert.ErrorIs(t, expired, context.DeadlineExceeded)
}

func TestUsageError(t *testing.T) {
	for _, reason := range []error{ErrChannelReleased, ErrConcurrentCall, ErrCanceled} {
		err := &UsageError{ChannelID: 2, Op: "tx.select", Reason: reason}
		assert.ErrorIs(t, err, reason)
		assert.Contains(t, err.Error(), "tx.select")
		assert.False(t, IsProtocolError(err))
	}
}

func TestArgumentError(t *testing.T) {
	err := &ArgumentError{Op: "exchange.declare", Field: "type", Reason: `"bogus" is not one of direct, fanout, topic, headers`}

	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "invalid type")
}

func TestChannelErrorConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *ChannelError
		code int
	}{
		{"not found", NewNotFound("queue", "q1"), NotFound},
		{"precondition", NewPreconditionFailed("queue 'q1' in use"), PreconditionFailed},
		{"access refused", NewAccessRefused("reserved name"), AccessRefused},
		{"locked", NewResourceLocked("exclusive queue"), ResourceLocked},
		{"invalid", NewCommandInvalid("no transaction"), CommandInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.True(t, IsChannelError(tt.err))
			assert.Equal(t, tt.code, GetErrorCode(tt.err))
		})
	}

	assert.Equal(t, "NOT_FOUND - no queue 'q1'", NewNotFound("queue", "q1").Message)
}

func TestConnectionError(t *testing.T) {
	err := NewConnectionError(ConnectionForced, "broker shutting down", 0, 0)

	assert.Equal(t, ConnectionForced, err.Code)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, ConnectionForced, GetErrorCode(err))
}

func TestConfigValidationError(t *testing.T) {
	err := NewConfigValidationError("rpc", "timeout", "must be positive")

	assert.Equal(t, "rpc", err.Section)
	assert.Equal(t, "timeout", err.Key)
	assert.Contains(t, err.Error(), "rpc.timeout")
}

func TestGetErrorCodeOfPlainError(t *testing.T) {
	assert.Equal(t, 0, GetErrorCode(errors.New("plain")))
	assert.False(t, IsAccessRefused(nil))
}
