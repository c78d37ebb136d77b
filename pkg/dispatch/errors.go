package dispatch

import (
	"errors"
	"fmt"

	"github.com/rexliu/w3abridge/pkg/codec"
)

// Code is a stable error code. Callers pattern-match on it, so existing
// values never change, including the ones with doubled words.
type Code string

const (
	CodeInvalidArguments      Code = "INVALID_ARGUMENTS"
	CodeNotInitialized        Code = "NotInitializedException"
	CodeInitFailed            Code = "InitFailedException"
	CodeLoginFailed           Code = "LoginFailedException"
	CodeLogoutFailed          Code = "LogoutFailedException"
	CodeInitializeFailed      Code = "InitializeFailedException"
	CodeGetPrivKeyFailed      Code = "GetPrivKeyFailedException"
	CodeGetEd25519Failed      Code = "GetEd25519PrivKeyFailedException"
	CodeWalletServicesFailed  Code = "WalletServicesFailedFailedException"
	CodeEnableMFAFailed       Code = "enableMFAFailedException"
	CodeRequestFailed         Code = "RequestFailedFailedException"
	CodeGetUserInfoFailed     Code = "GetUserInfoFailedException"
	CodeGetAuthResponseFailed Code = "GetWeb3AuthResponseFailedException"
	CodeGetSignResponseFailed Code = "GetSignResponseFailedException"
)

const (
	msgInvalidArguments = "Invalid plugin method arguments"
	msgNotInitialized   = "Web3Auth.init has to be called first"
)

var (
	// ErrNotImplemented signals a command name with no handler. It is never
	// turned into an error envelope.
	ErrNotImplemented = errors.New("dispatch: not implemented")
	// ErrMissingPayload is raised when a command with parameters arrives
	// without a payload.
	ErrMissingPayload = errors.New("dispatch: missing payload")
	// ErrNotInitialized is raised when a command needs a session and init
	// has not run.
	ErrNotInitialized = errors.New("dispatch: session not initialized")
	// ErrHandlerPanic wraps a recovered panic from a handler.
	ErrHandlerPanic = errors.New("dispatch: handler panic")
)

// Error is the failure envelope returned to the host.
type Error struct {
	Code    Code    `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, *e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Class is the failure class of a mapped error.
type Class int

const (
	ClassArgument Class = iota
	ClassPrecondition
	ClassExecution
)

func (c Class) String() string {
	switch c {
	case ClassArgument:
		return "argument"
	case ClassPrecondition:
		return "precondition"
	default:
		return "execution"
	}
}

// Classify reports the failure class of cause.
func Classify(cause error) Class {
	switch {
	case errors.Is(cause, codec.ErrDecode), errors.Is(cause, ErrMissingPayload):
		return ClassArgument
	case errors.Is(cause, ErrNotInitialized):
		return ClassPrecondition
	default:
		return ClassExecution
	}
}

// Map converts a failure raised while serving desc into its envelope.
// Decode failures carry the raw payload as details, SDK failures carry the
// SDK message. Every cause maps to some envelope.
func Map(desc *Descriptor, cause error) *Error {
	var env *Error
	if errors.As(cause, &env) {
		return env
	}
	switch Classify(cause) {
	case ClassArgument:
		msg := desc.InvalidMessage
		if msg == "" {
			msg = msgInvalidArguments
		}
		var decodeErr *codec.DecodeError
		if errors.As(cause, &decodeErr) {
			return &Error{Code: CodeInvalidArguments, Message: msg, Details: ptr(decodeErr.Payload)}
		}
		return &Error{Code: CodeInvalidArguments, Message: msg}
	case ClassPrecondition:
		return &Error{Code: CodeNotInitialized, Message: msgNotInitialized}
	default:
		return &Error{Code: desc.Failure, Message: desc.FailureMessage, Details: ptr(cause.Error())}
	}
}

// Codes lists the full error vocabulary.
func Codes() []Code {
	return []Code{
		CodeInvalidArguments,
		CodeNotInitialized,
		CodeInitFailed,
		CodeLoginFailed,
		CodeLogoutFailed,
		CodeInitializeFailed,
		CodeGetPrivKeyFailed,
		CodeGetEd25519Failed,
		CodeWalletServicesFailed,
		CodeEnableMFAFailed,
		CodeRequestFailed,
		CodeGetUserInfoFailed,
		CodeGetAuthResponseFailed,
		CodeGetSignResponseFailed,
	}
}

func ptr(s string) *string {
	return &s
}
