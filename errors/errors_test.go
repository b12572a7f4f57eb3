package errors

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCast(t *testing.T) {
	type args struct {
		err error
	}
	tests := []struct {
		name   string
		args   args
		want   Error
		wantOK bool
	}{
		{
			name: "with rich error",
			args: args{
				err: Error{
					Code:    ErrBadRequest,
					Kind:    KindInvalidDepthRange,
					Err:     nil,
					Message: "this was a bad request",
				},
			},
			want: Error{
				Code:    ErrBadRequest,
				Kind:    KindInvalidDepthRange,
				Err:     nil,
				Message: "this was a bad request",
			},
			wantOK: true,
		},
		{
			name: "with rich error pointer",
			args: args{
				err: &Error{
					Code:    ErrForbidden,
					Kind:    KindDeviceBusy,
					Message: "busy",
				},
			},
			want: Error{
				Code:    ErrForbidden,
				Kind:    KindDeviceBusy,
				Message: "busy",
			},
			wantOK: true,
		},
		{
			name: "with rich error wrapped by fmt",
			args: args{
				err: fmt.Errorf("outer: %w", Error{Code: ErrNotFound, Kind: KindDeviceNotFound, Message: "inner"}),
			},
			want: Error{
				Code:    ErrNotFound,
				Kind:    KindDeviceNotFound,
				Message: "inner",
			},
			wantOK: true,
		},
		{
			name: "with nil error",
			args: args{
				err: nil,
			},
			want: Error{
				Code:    ErrUnexpected,
				Kind:    KindUnexpected,
				Err:     nil,
				Message: "unknown operation",
				Details: make(Details),
			},
			wantOK: false,
		},
		{
			name: "with simple error",
			args: args{
				err: errors.New("i am an error"),
			},
			want: Error{
				Code:    ErrUnexpected,
				Kind:    KindUnexpected,
				Err:     errors.New("i am an error"),
				Message: "unknown operation",
				Details: make(Details),
			},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := Cast(tt.args.err); !reflect.DeepEqual(got, tt.want) || ok != tt.wantOK {
				t.Errorf("Cast() = %v, %v, want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	type fields struct {
		Code    Code
		Err     error
		Message string
	}
	tests := []struct {
		name   string
		fields fields
		want   string
	}{
		{
			name: "with original error",
			fields: fields{
				Code:    ErrBadRequest,
				Err:     errors.New("hello world"),
				Message: "unknown operation",
			},
			want: "unknown operation: hello world",
		},
		{
			name: "without original error",
			fields: fields{
				Code:    ErrForbidden,
				Message: "display 1 is presenting for another context",
			},
			want: "display 1 is presenting for another context",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Error{
				Code:    tt.fields.Code,
				Err:     tt.fields.Err,
				Message: tt.fields.Message,
			}
			if got := e.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromErr(t *testing.T) {
	err := FromErr("i am the message", ErrProtocolViolation, errors.New("i am the error"), nil)
	assert.EqualError(t, err, "i am the message: i am the error")
	e, ok := Cast(err)
	assert.True(t, ok, "should be rich error")
	assert.Equal(t, ErrProtocolViolation, e.Code, "should keep code")
}

func TestWrap(t *testing.T) {
	type args struct {
		message string
		err     error
	}
	tests := []struct {
		name string
		args args
		want error
	}{
		{
			name: "with rich error",
			args: args{
				message: "i am the wrapper",
				err: &Error{
					Code:    ErrNotFound,
					Err:     errors.New("i am the error"),
					Message: "i am the original operation",
				},
			},
			want: errors.New("i am the wrapper: i am the original operation: i am the error"),
		},
		{
			name: "with simple error",
			args: args{
				message: "i am the wrapper",
				err:     errors.New("i am the error"),
			},
			want: errors.New("i am the wrapper: i am the error"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Wrap(tt.args.err, tt.args.message, nil); err == nil || err.Error() != tt.want.Error() {
				t.Errorf("Wrap() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWrapKeepsKindAndMergesDetails(t *testing.T) {
	original := NewDeviceBusyError(4)
	wrapped := Wrap(original, "request present", Details{"display_id": uint64(5), "context": "tab"})
	e, ok := Cast(wrapped)
	assert.True(t, ok, "should be rich error")
	assert.Equal(t, KindDeviceBusy, e.Kind, "should keep kind")
	assert.Equal(t, ErrForbidden, e.Code, "should keep code")
	assert.Equal(t, uint64(5), e.Details["display_id"], "should overwrite detail")
	assert.Equal(t, uint64(4), e.Details["_display_id"], "should keep original detail with prefix")
	assert.Equal(t, "tab", e.Details["context"], "should add new detail")
	// Original must stay untouched.
	originalE, _ := Cast(original)
	assert.Len(t, originalE.Details, 1, "should not modify original details")
}

func TestIs(t *testing.T) {
	assert.True(t, Is(NewDeviceNotFoundError(1), KindDeviceNotFound))
	assert.True(t, Is(Wrap(NewNotPresentingError(1, "a"), "exit", nil), KindNotPresenting))
	assert.False(t, Is(NewDeviceBusyError(1), KindDeviceNotFound))
	assert.False(t, Is(errors.New("plain"), KindUnexpected))
}

func TestBlameUser(t *testing.T) {
	type args struct {
		err error
	}
	tests := []struct {
		name string
		args args
		want bool
	}{
		{
			name: "not found",
			args: args{
				err: Error{Code: ErrNotFound},
			},
			want: true,
		},
		{
			name: "bad request",
			args: args{
				err: Error{Code: ErrBadRequest},
			},
			want: true,
		},
		{
			name: "protocol violation",
			args: args{
				err: Error{Code: ErrProtocolViolation},
			},
			want: true,
		},
		{
			name: "forbidden",
			args: args{
				err: NewDeviceBusyError(1),
			},
			want: true,
		},
		{
			name: "internal",
			args: args{
				err: Error{Code: ErrInternal},
			},
			want: false,
		},
		{
			name: "communication",
			args: args{
				err: NewDispatcherClosedError("get-displays"),
			},
			want: false,
		},
		{
			name: "unexpected",
			args: args{
				err: errors.New("unknown error"),
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BlameUser(tt.args.err); got != tt.want {
				t.Errorf("BlameUser() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLog(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	Log(logger, NewDeviceBusyError(3))
	Log(logger, NewInternalErrorFromErr(errors.New("boom"), "something broke", nil))
	entries := recorded.AllUntimed()
	if assert.Len(t, entries, 2, "should log both errors") {
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level, "user errors should be warnings")
		assert.Equal(t, string(KindDeviceBusy), entries[0].ContextMap()["err_kind"], "should include kind")
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level, "internal errors should be errors")
		assert.Equal(t, "boom", entries[1].ContextMap()["err_orig"], "should include original error")
	}
}
