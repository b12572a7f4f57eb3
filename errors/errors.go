package errors

import (
	"encoding/json"
	nativeerrors "errors"
	"fmt"
	"go.uber.org/zap"
)

// Details holds additional error details that can be viewed and logged.
type Details map[string]interface{}

// Error is the general error type for appearing errors in the arbiter.
type Error struct {
	// Code is the error code.
	Code Code
	// Kind is the more specific error kind.
	Kind Kind
	// Err is the original error that occurred.
	Err error
	// Message is the manually created message that can be used in order to trace the error.
	Message string
	// Details holds any error details.
	Details Details
}

func (e Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the original error.
func (e Error) Unwrap() error {
	return e.Err
}

// Cast casts the given error to Error. If the given one is not of type Error, an unknown one with error code
// ErrUnexpected is created and false returned.
func Cast(err error) (Error, bool) {
	var e Error
	if nativeerrors.As(err, &e) {
		return e, true
	}
	var ePtr *Error
	if nativeerrors.As(err, &ePtr) && ePtr != nil {
		return *ePtr, true
	}
	e = Error{
		Code:    ErrUnexpected,
		Kind:    KindUnexpected,
		Err:     err,
		Message: "unknown operation",
		Details: make(Details),
	}
	return e, false
}

// Wrap wraps the given error with the given message.
func Wrap(err error, message string, details Details) error {
	e, ok := Cast(err)
	// Check whether to append to message or replace.
	var errMsg string
	if ok {
		errMsg = fmt.Sprintf("%s: %s", message, e.Message)
	} else {
		errMsg = message
	}
	// Add details. We copy in order to not modify details of the wrapped error.
	mergedDetails := make(Details, len(e.Details)+len(details))
	for k, v := range e.Details {
		mergedDetails[k] = v
	}
	for k, v := range details {
		// Check if detail with same key already set.
		if originalV, ok := mergedDetails[k]; ok {
			// Add prefix to original key. Original value will be overwritten after this
			// block.
			mergedDetails[fmt.Sprintf("_%s", k)] = originalV
		}
		mergedDetails[k] = v
	}
	return Error{
		Code:    e.Code,
		Kind:    e.Kind,
		Err:     e.Err,
		Message: errMsg,
		Details: mergedDetails,
	}
}

// FromErr creates an Error with the given details.
func FromErr(message string, code Code, err error, details Details) error {
	return Error{
		Code:    code,
		Kind:    KindUnknown,
		Err:     err,
		Message: message,
		Details: details,
	}
}

// Is checks whether the given error is an Error with the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := Cast(err)
	return ok && e.Kind == kind
}

// detailsAsJSON encodes the Details of the given Error as JSON string.
func detailsAsJSON(err error) []byte {
	e, _ := Cast(err)
	if e.Details == nil {
		return nil
	}
	b, err := json.Marshal(e.Details)
	if err != nil {
		return []byte(fmt.Sprintf("%+v", e.Details))
	}
	return b
}

// Log logs the given error with its details. If the error is ErrFatal, the error will be logged is fatal.
func Log(logger *zap.Logger, err error) {
	e, _ := Cast(err)
	fields := make([]zap.Field, 0, len(e.Details)+3)
	fields = append(fields, zap.String("err_code", string(e.Code)), zap.String("err_kind", string(e.Kind)))
	// Add each details entry as separate field for better readability.
	for k, v := range e.Details {
		fields = append(fields, zap.Any(fmt.Sprintf("err_details_v_%s", k), v))
	}
	if e.Err != nil {
		fields = append(fields, zap.String("err_orig", e.Err.Error()))
	}
	logger = logger.With(fields...)
	switch e.Code {
	case ErrBadRequest, ErrProtocolViolation, ErrNotFound, ErrForbidden:
		logger.Warn(e.Error())
	case ErrFatal:
		logger.Fatal(e.Error())
	default:
		logger.Error(e.Error())
	}
}

// Prettify returns a detailed error string with error details.
func Prettify(err error) string {
	e, _ := Cast(err)
	return fmt.Sprintf("Code: %s\nKind: %s\nOriginal Error: %+v\nMessage: %s\nDetails: %s\n",
		e.Code, e.Kind, e.Err, e.Message, detailsAsJSON(e))
}

// BlameUser checks if the given error is ErrBadRequest, ErrProtocolViolation,
// ErrNotFound or ErrForbidden.
func BlameUser(err error) bool {
	e, ok := Cast(err)
	if !ok {
		// Unexpected.
		return false
	}
	switch e.Code {
	case ErrBadRequest,
		ErrProtocolViolation,
		ErrNotFound,
		ErrForbidden:
		return true
	}
	// Otherwise.
	return false
}
