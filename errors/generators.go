package errors

import (
	"fmt"
)

// NewResourceNotFoundError returns a new ErrNotFound error with kind
// KindResourceNotFound and the given message.
func NewResourceNotFoundError(message string, details Details) error {
	return Error{
		Code:    ErrNotFound,
		Kind:    KindResourceNotFound,
		Message: message,
		Details: details,
	}
}

// NewInternalError returns a new ErrInternal error with kind KindUnknown.
func NewInternalError(message string, details Details) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindUnknown,
		Message: message,
		Details: details,
	}
}

// NewInternalErrorFromErr returns a new ErrInternal error with kind KindUnknown
// and the given original error.
func NewInternalErrorFromErr(err error, message string, details Details) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindUnknown,
		Err:     err,
		Message: message,
		Details: details,
	}
}

// NewContextAbortedError returns a new ErrAborted error with kind
// KindContextAborted.
func NewContextAbortedError(currentOperation string) error {
	return Error{
		Code:    ErrAborted,
		Kind:    KindContextAborted,
		Message: fmt.Sprintf("context aborted while %s", currentOperation),
	}
}

// NewDeviceNotFoundError returns a new ErrNotFound error with kind
// KindDeviceNotFound for the given display id.
func NewDeviceNotFoundError(displayID uint64) error {
	return Error{
		Code:    ErrNotFound,
		Kind:    KindDeviceNotFound,
		Message: fmt.Sprintf("display %d not found", displayID),
		Details: Details{"display_id": displayID},
	}
}

// NewDeviceBusyError returns a new ErrForbidden error with kind KindDeviceBusy
// for the given display id.
func NewDeviceBusyError(displayID uint64) error {
	return Error{
		Code:    ErrForbidden,
		Kind:    KindDeviceBusy,
		Message: fmt.Sprintf("display %d is presenting for another context", displayID),
		Details: Details{"display_id": displayID},
	}
}

// NewNotPresentingError returns a new ErrForbidden error with kind
// KindNotPresenting.
func NewNotPresentingError(displayID uint64, context string) error {
	return Error{
		Code:    ErrForbidden,
		Kind:    KindNotPresenting,
		Message: fmt.Sprintf("context is not presenting on display %d", displayID),
		Details: Details{
			"display_id": displayID,
			"context":    context,
		},
	}
}

// NewTransportFailureError returns a new ErrCommunication error with kind
// KindTransportFailure.
func NewTransportFailureError(message string, details Details) error {
	return Error{
		Code:    ErrCommunication,
		Kind:    KindTransportFailure,
		Message: message,
		Details: details,
	}
}

// NewDispatcherClosedError returns a new ErrCommunication error with kind
// KindDispatcherClosed.
func NewDispatcherClosedError(requestType string) error {
	return Error{
		Code:    ErrCommunication,
		Kind:    KindDispatcherClosed,
		Message: fmt.Sprintf("dispatcher closed before %s could be served", requestType),
		Details: Details{"request_type": requestType},
	}
}

// NewBadRequestError returns a new ErrBadRequest error with the given kind.
func NewBadRequestError(kind Kind, message string, details Details) error {
	return Error{
		Code:    ErrBadRequest,
		Kind:    kind,
		Message: message,
		Details: details,
	}
}

// NewQueryToSQLError returns a new ErrInternal error with kind KindDBQuery for
// failed query building.
func NewQueryToSQLError(err error, details Details) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDBQuery,
		Err:     err,
		Message: "query to sql",
		Details: details,
	}
}

// NewExecQueryError returns a new ErrInternal error with kind KindDBQuery for
// a failed query execution.
func NewExecQueryError(err error, message string, query string) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDBQuery,
		Err:     err,
		Message: message,
		Details: Details{"query": query},
	}
}

// NewScanDBRowError returns a new ErrInternal error with kind KindDBQuery for a
// failed row scan.
func NewScanDBRowError(err error, message string, query string) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDBQuery,
		Err:     err,
		Message: message,
		Details: Details{"query": query},
	}
}

// NewDBTxBeginError returns a new ErrInternal error with kind KindDB for a
// failed transaction begin.
func NewDBTxBeginError(err error) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: "begin tx",
	}
}

// NewDBTxCommitError returns a new ErrInternal error with kind KindDB for a
// failed transaction commit.
func NewDBTxCommitError(err error) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: "commit tx",
	}
}
