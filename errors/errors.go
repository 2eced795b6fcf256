package errors

import (
	"errors"
	"fmt"
	"time"
)

// AMQPError represents a general AMQP error
type AMQPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Method  string `json:"method,omitempty"`
	Cause   error  `json:"cause,omitempty"`
}

func (e *AMQPError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("AMQP Error %d in %s: %s", e.Code, e.Method, e.Message)
	}
	return fmt.Sprintf("AMQP Error %d: %s", e.Code, e.Message)
}

func (e *AMQPError) Unwrap() error {
	return e.Cause
}

// AMQP reply codes (AMQP 0-9-1 section 1.2)
const (
	ReplySuccess = 200

	ContentTooLarge    = 311
	NoRoute            = 312
	NoConsumers        = 313
	ConnectionForced   = 320
	InvalidPath        = 402
	AccessRefused      = 403
	NotFound           = 404
	ResourceLocked     = 405
	PreconditionFailed = 406

	FrameError       = 501
	SyntaxError      = 502
	CommandInvalid   = 503
	ChannelErrorCode = 504
	UnexpectedFrame  = 505
	ResourceError    = 506
	NotAllowed       = 530
	NotImplemented   = 540
	InternalError    = 541
)

var codeNames = map[int]string{
	ReplySuccess:       "REPLY_SUCCESS",
	ContentTooLarge:    "CONTENT_TOO_LARGE",
	NoRoute:            "NO_ROUTE",
	NoConsumers:        "NO_CONSUMERS",
	ConnectionForced:   "CONNECTION_FORCED",
	InvalidPath:        "INVALID_PATH",
	AccessRefused:      "ACCESS_REFUSED",
	NotFound:           "NOT_FOUND",
	ResourceLocked:     "RESOURCE_LOCKED",
	PreconditionFailed: "PRECONDITION_FAILED",
	FrameError:         "FRAME_ERROR",
	SyntaxError:        "SYNTAX_ERROR",
	CommandInvalid:     "COMMAND_INVALID",
	ChannelErrorCode:   "CHANNEL_ERROR",
	UnexpectedFrame:    "UNEXPECTED_FRAME",
	ResourceError:      "RESOURCE_ERROR",
	NotAllowed:         "NOT_ALLOWED",
	NotImplemented:     "NOT_IMPLEMENTED",
	InternalError:      "INTERNAL_ERROR",
}

// CodeName returns the symbolic name of an AMQP reply code.
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", code)
}

// Sentinels for errors.Is checks.
var (
	ErrDuplicateID      = errors.New("channel id already in use")
	ErrIDOutOfRange     = errors.New("channel id out of range")
	ErrProtocol         = errors.New("protocol error")
	ErrTimeout          = errors.New("rpc timeout")
	ErrChannelReleased  = errors.New("channel released")
	ErrConcurrentCall   = errors.New("concurrent call on channel")
	ErrCanceled         = errors.New("call canceled by release")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConnectionClosed = errors.New("connection closed")
)

// Connection Errors

// ConnectionError represents connection-specific errors
type ConnectionError struct {
	AMQPError
	ClassID  uint16 `json:"class_id,omitempty"`
	MethodID uint16 `json:"method_id,omitempty"`
}

func NewConnectionError(code int, message string, classID, methodID uint16) *ConnectionError {
	return &ConnectionError{
		AMQPError: AMQPError{
			Code:    code,
			Message: message,
		},
		ClassID:  classID,
		MethodID: methodID,
	}
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionClosed
}

func (e *ConnectionError) As(target interface{}) bool {
	if amqpErr, ok := target.(**AMQPError); ok {
		*amqpErr = &e.AMQPError
		return true
	}
	return false
}

// Channel Errors

// ChannelError is a channel-level exception raised by the broker. It
// closes the channel it occurred on.
type ChannelError struct {
	AMQPError
	ChannelID uint16 `json:"channel_id"`
	ClassID   uint16 `json:"class_id,omitempty"`
	MethodID  uint16 `json:"method_id,omitempty"`
}

func NewChannelError(code int, message string, channelID, classID, methodID uint16) *ChannelError {
	return &ChannelError{
		AMQPError: AMQPError{
			Code:    code,
			Message: message,
		},
		ChannelID: channelID,
		ClassID:   classID,
		MethodID:  methodID,
	}
}

func (e *ChannelError) As(target interface{}) bool {
	if amqpErr, ok := target.(**AMQPError); ok {
		*amqpErr = &e.AMQPError
		return true
	}
	return false
}

// NewNotFound reports a missing exchange, queue or consumer.
func NewNotFound(kind, name string) *ChannelError {
	return &ChannelError{AMQPError: AMQPError{
		Code:    NotFound,
		Message: fmt.Sprintf("NOT_FOUND - no %s '%s'", kind, name),
	}}
}

// NewPreconditionFailed reports an inequivalent redeclare or a failed
// if-unused/if-empty check.
func NewPreconditionFailed(reason string) *ChannelError {
	return &ChannelError{AMQPError: AMQPError{
		Code:    PreconditionFailed,
		Message: "PRECONDITION_FAILED - " + reason,
	}}
}

// NewAccessRefused reports an operation on a reserved name.
func NewAccessRefused(reason string) *ChannelError {
	return &ChannelError{AMQPError: AMQPError{
		Code:    AccessRefused,
		Message: "ACCESS_REFUSED - " + reason,
	}}
}

// NewResourceLocked reports use of a queue exclusive to another connection.
func NewResourceLocked(reason string) *ChannelError {
	return &ChannelError{AMQPError: AMQPError{
		Code:    ResourceLocked,
		Message: "RESOURCE_LOCKED - " + reason,
	}}
}

// NewCommandInvalid reports a method that is not valid in the channel's state.
func NewCommandInvalid(reason string) *ChannelError {
	return &ChannelError{AMQPError: AMQPError{
		Code:    CommandInvalid,
		Message: "COMMAND_INVALID - " + reason,
	}}
}

// Client Errors

// AllocationError is returned by the channel registry.
type AllocationError struct {
	ID   int
	Kind error // ErrDuplicateID or ErrIDOutOfRange
}

func (e *AllocationError) Error() string {
	switch {
	case e.Kind == ErrDuplicateID:
		return fmt.Sprintf("channel id %d already in use", e.ID)
	case e.ID < 1:
		return fmt.Sprintf("channel id %d too low", e.ID)
	default:
		return fmt.Sprintf("channel id %d too high", e.ID)
	}
}

func (e *AllocationError) Unwrap() error {
	return e.Kind
}

// NewDuplicateID reports an id that is already reserved.
func NewDuplicateID(id int) *AllocationError {
	return &AllocationError{ID: id, Kind: ErrDuplicateID}
}

// NewIDOutOfRange reports an id outside [1, max].
func NewIDOutOfRange(id int) *AllocationError {
	return &AllocationError{ID: id, Kind: ErrIDOutOfRange}
}

// ProtocolError is a broker exception or a reply that violates the call
// contract. The channel it occurred on is unusable afterwards.
type ProtocolError struct {
	AMQPError
	ChannelID uint16 `json:"channel_id"`
	ClassID   uint16 `json:"class_id,omitempty"`
	MethodID  uint16 `json:"method_id,omitempty"`
}

func NewProtocolError(channelID uint16, code int, message string) *ProtocolError {
	return &ProtocolError{
		AMQPError: AMQPError{
			Code:    code,
			Message: message,
		},
		ChannelID: channelID,
	}
}

// FromChannelClose converts a broker channel.close into a ProtocolError.
func FromChannelClose(channelID uint16, code int, text string, classID, methodID uint16, method string) *ProtocolError {
	return &ProtocolError{
		AMQPError: AMQPError{
			Code:    code,
			Message: text,
			Method:  method,
		},
		ChannelID: channelID,
		ClassID:   classID,
		MethodID:  methodID,
	}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("channel %d: %s", e.ChannelID, e.AMQPError.Error())
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func (e *ProtocolError) As(target interface{}) bool {
	if amqpErr, ok := target.(**AMQPError); ok {
		*amqpErr = &e.AMQPError
		return true
	}
	return false
}

// TimeoutError is returned when no reply arrives in time. Cause is
// context.DeadlineExceeded when the caller's deadline ended the wait.
type TimeoutError struct {
	ChannelID uint16
	Method    string
	After     time.Duration
	Cause     error
}

func (e *TimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("channel %d: %s abandoned awaiting reply: %v", e.ChannelID, e.Method, e.Cause)
	}
	return fmt.Sprintf("channel %d: %s timed out after %s", e.ChannelID, e.Method, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// UsageError reports misuse of a channel by the caller.
type UsageError struct {
	ChannelID uint16
	Op        string
	Reason    error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("channel %d: %s: %v", e.ChannelID, e.Op, e.Reason)
}

func (e *UsageError) Unwrap() error {
	return e.Reason
}

// ArgumentError reports an operation argument rejected before anything is sent.
type ArgumentError struct {
	Op     string
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Op, e.Field, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// Configuration Errors

// ConfigError represents configuration-specific errors
type ConfigError struct {
	AMQPError
	Section string `json:"section"`
	Key     string `json:"key,omitempty"`
}

func NewConfigError(message, section, key string, cause error) *ConfigError {
	return &ConfigError{
		AMQPError: AMQPError{
			Code:    InternalError,
			Message: message,
			Cause:   cause,
		},
		Section: section,
		Key:     key,
	}
}

func NewConfigValidationError(section, key, reason string) *ConfigError {
	message := fmt.Sprintf("Configuration validation failed for %s.%s: %s", section, key, reason)
	return NewConfigError(message, section, key, nil)
}

// Helper functions for common error checking

// IsProtocolError checks if an error is a ProtocolError
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}

// IsChannelError checks if an error is a ChannelError
func IsChannelError(err error) bool {
	var chanErr *ChannelError
	return errors.As(err, &chanErr)
}

// IsNotFound checks if an error indicates a resource was not found
func IsNotFound(err error) bool {
	return GetErrorCode(err) == NotFound
}

// IsPreconditionFailed checks if an error indicates a precondition failed
func IsPreconditionFailed(err error) bool {
	return GetErrorCode(err) == PreconditionFailed
}

// IsAccessRefused checks if an error indicates access was refused
func IsAccessRefused(err error) bool {
	return GetErrorCode(err) == AccessRefused
}

// GetErrorCode returns the AMQP error code if the error is an AMQPError
func GetErrorCode(err error) int {
	var amqpErr *AMQPError
	if errors.As(err, &amqpErr) {
		return amqpErr.Code
	}
	return 0
}
