package errors

type Code string

const (
	ErrAborted           Code = "aborted"
	ErrBadRequest        Code = "bad-request"
	ErrCommunication     Code = "communication"
	ErrProtocolViolation Code = "protocol-violation"
	ErrFatal             Code = "fatal"
	ErrForbidden         Code = "forbidden"
	ErrNotFound          Code = "not-found"
	ErrInternal          Code = "internal"
	ErrUnexpected        Code = "unexpected"
)

type Kind string

const (
	// KindContextAborted is used when we were currently performing an operation but
	// the context got aborted.
	KindContextAborted Kind = "context-aborted"
	// KindDB is used for general database errors.
	KindDB Kind = "db"
	// KindDBQuery is used when a database query failed.
	KindDBQuery Kind = "db-query"
	// KindDBRollback is used when rolling back a transaction failed.
	KindDBRollback Kind = "db-rollback"
	KindDecodeJSON Kind = "decode-json"
	KindEncodeJSON Kind = "encode-json"
	// KindDeviceBusy is used when a display is presenting-owned by a different
	// context.
	KindDeviceBusy Kind = "device-busy"
	// KindDeviceNotFound is used when a requested display id is unknown.
	KindDeviceNotFound Kind = "device-not-found"
	// KindDeviceCannotPresent is used when presenting is requested for a display
	// that does not support it.
	KindDeviceCannotPresent Kind = "device-cannot-present"
	// KindDispatcherClosed is used when a request is sent to a dispatcher whose
	// loop has already ended.
	KindDispatcherClosed Kind = "dispatcher-closed"
	// KindInvalidConfig is used for invalid configuration values.
	KindInvalidConfig Kind = "invalid-config"
	// KindInvalidDepthRange is used when frame data is requested with depth near
	// and far values that do not form a valid range.
	KindInvalidDepthRange Kind = "invalid-depth-range"
	// KindNotPresenting is used when exit-present or submit-frame is requested by
	// a context that does not own the display.
	KindNotPresenting Kind = "not-presenting"
	KindResourceNotFound Kind = "resource-not-found"
	// KindShouldNotHappen is used for states that are considered impossible.
	KindShouldNotHappen Kind = "should-not-happen"
	// KindTransportFailure is used when a reply could not be delivered because the
	// requesting peer is gone.
	KindTransportFailure Kind = "transport-failure"
	KindUnexpected       Kind = "unexpected"
	// KindUnknown is used for different unknown type values that are too special
	// for creating separate error kinds.
	KindUnknown Kind = "unknown"
	// KindUnknownRequestType is used when a client sends a request with unknown
	// type.
	KindUnknownRequestType Kind = "unknown-request-type"
)
