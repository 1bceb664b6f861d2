package serviceerr

import "errors"

// Code is a machine-readable identifier of a failure.
type Code string

const (
	CodeUnknown            Code = "unknown"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUserCanceled       Code = "user_canceled"
	CodeNetwork            Code = "network"
	CodeAttestation        Code = "attestation"
	CodeUnexpectedMessage  Code = "unexpected_message"
	CodeHandlerTimeout     Code = "handler_timeout"
	CodeParse              Code = "parse"
	CodeCannotStart        Code = "cannot_start"
	CodeConfirmInFlight    Code = "confirm_in_flight"
	CodeTerminal           Code = "terminal"
	CodeDuplicateHandler   Code = "duplicate_handler"
	CodeIncompleteHandlers Code = "incomplete_handlers"
	CodeInvalidDetails     Code = "invalid_details"
	CodeFlowClosed         Code = "flow_closed"
)

// Class groups codes by how the orchestration core reacts to them.
type Class int

const (
	ClassUnknown Class = iota
	ClassUserCancellation
	ClassTransientNetwork
	ClassAttestation
	ClassBridgeProtocol
	ClassParse
	ClassProgramming
)

func (c Class) String() string {
	switch c {
	case ClassUserCancellation:
		return "user_cancellation"
	case ClassTransientNetwork:
		return "transient_network"
	case ClassAttestation:
		return "attestation"
	case ClassBridgeProtocol:
		return "bridge_protocol"
	case ClassParse:
		return "parse"
	case ClassProgramming:
		return "programming"
	default:
		return "unknown"
	}
}

type Error struct {
	Err         Code
	Description string
}

var (
	ErrUnknown            = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrNotFound           = &Error{Err: CodeNotFound, Description: "not found"}
	ErrConflict           = &Error{Err: CodeConflict, Description: "already exists"}
	ErrUserCanceled       = &Error{Err: CodeUserCanceled, Description: "canceled by the user"}
	ErrNetwork            = &Error{Err: CodeNetwork, Description: "network request failed"}
	ErrAttestation        = &Error{Err: CodeAttestation, Description: "integrity check failed"}
	ErrUnexpectedMessage  = &Error{Err: CodeUnexpectedMessage, Description: "Unexpected message"}
	ErrHandlerTimeout     = &Error{Err: CodeHandlerTimeout, Description: "Timed out"}
	ErrParse              = &Error{Err: CodeParse, Description: "malformed callback url"}
	ErrCannotStart        = &Error{Err: CodeCannotStart, Description: "cannot start browser session"}
	ErrConfirmInFlight    = &Error{Err: CodeConfirmInFlight, Description: "a confirmation is already in flight"}
	ErrTerminal           = &Error{Err: CodeTerminal, Description: "flow already reached a terminal outcome"}
	ErrDuplicateHandler   = &Error{Err: CodeDuplicateHandler, Description: "handler already registered"}
	ErrIncompleteHandlers = &Error{Err: CodeIncompleteHandlers, Description: "handler set is incomplete"}
	ErrInvalidDetails     = &Error{Err: CodeInvalidDetails, Description: "invalid payment details"}
	ErrFlowClosed         = &Error{Err: CodeFlowClosed, Description: "flow is closed"}
)

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}
	return string(e.Err) + ": " + e.Description
}

// Is matches on the code so that wrapped copies with a different
// description still satisfy errors.Is against the predefined errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Err == e.Err
}

// Class reports the taxonomy class of the code.
func (e *Error) Class() Class {
	switch e.Err {
	case CodeUserCanceled:
		return ClassUserCancellation
	case CodeNetwork:
		return ClassTransientNetwork
	case CodeAttestation:
		return ClassAttestation
	case CodeUnexpectedMessage, CodeHandlerTimeout:
		return ClassBridgeProtocol
	case CodeParse:
		return ClassParse
	case CodeConfirmInFlight, CodeTerminal, CodeDuplicateHandler, CodeIncompleteHandlers:
		return ClassProgramming
	default:
		return ClassUnknown
	}
}

// ClassOf returns the class of the first *Error found in err's chain.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class()
	}
	return ClassUnknown
}

// WithDescription returns a copy of e carrying a different description.
func (e *Error) WithDescription(description string) *Error {
	return &Error{Err: e.Err, Description: description}
}
