package internal

import (
	"errors"
	"fmt"
)

type Stage string

const (
	StageRequest   Stage = "request"
	StageNormalize Stage = "normalize"
	StageComplete  Stage = "complete"
	StageParse     Stage = "parse"
	StagePipeline  Stage = "pipeline"
)

type Kind string

const (
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindCorruptDocument    Kind = "corrupt_document"
	KindEmptyContent       Kind = "empty_content"
	KindDecodeError        Kind = "decode_error"
	KindGatewayAuth        Kind = "gateway_auth"
	KindGatewayTransport   Kind = "gateway_transport"
	KindGatewayTimeout     Kind = "gateway_timeout"
	KindMalformedStructure Kind = "malformed_structure"
	KindIncompleteRecord   Kind = "incomplete_record"
	KindEmptyResult        Kind = "empty_result"
	KindInvalidRequest     Kind = "invalid_request"
)

// Error is a classified pipeline failure. Message is safe to show to users;
// Cause may carry lower-level detail and is only logged.
type Error struct {
	Stage   Stage
	Kind    Kind
	Message string
	Cause   error
}

func NewError(stage Stage, kind Kind, message string, cause error) *Error {
	return &Error{Stage: stage, Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Stage, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind, so errors.Is(err, ErrGatewayAuth) works for any stage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Public is the user-facing rendering: stage and message, never the cause.
func (e *Error) Public() string {
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

var (
	ErrUnsupportedFormat  = &Error{Kind: KindUnsupportedFormat}
	ErrCorruptDocument    = &Error{Kind: KindCorruptDocument}
	ErrEmptyContent       = &Error{Kind: KindEmptyContent}
	ErrDecode             = &Error{Kind: KindDecodeError}
	ErrGatewayAuth        = &Error{Kind: KindGatewayAuth}
	ErrGatewayTransport   = &Error{Kind: KindGatewayTransport}
	ErrGatewayTimeout     = &Error{Kind: KindGatewayTimeout}
	ErrMalformedStructure = &Error{Kind: KindMalformedStructure}
	ErrIncompleteRecord   = &Error{Kind: KindIncompleteRecord}
	ErrEmptyResult        = &Error{Kind: KindEmptyResult}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
)

// KindOf returns the classification of err, or "" when err is not a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
