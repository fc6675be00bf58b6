package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ErrorString_PrefersOpAndIDThenMessageThenKind(t *testing.T) {
	withOpAndID := &Error{Op: "host.executeTask", ID: "device-1", Err: errors.New("disconnected")}
	assert.Equal(t, "host.executeTask [device-1]: disconnected", withOpAndID.Error())

	withOpOnly := &Error{Op: "host.executeTask", Err: errors.New("disconnected")}
	assert.Equal(t, "host.executeTask: disconnected", withOpOnly.Error())

	messageOnly := &Error{Message: "bad field x"}
	assert.Equal(t, "bad field x", messageOnly.Error())

	kindOnly := &Error{Kind: "ValidationError"}
	assert.Equal(t, "ValidationError error", kindOnly.Error())
}

func TestError_Unwrap_ReachesSentinelViaErrorsIs(t *testing.T) {
	err := New("server.getTestcase", "NotFound", ErrNotFound)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
}

func TestWrapf_FormatsMessageAndKeepsKind(t *testing.T) {
	err := Wrapf("server.saveTestcase", "ValidationError", ErrValidation, "bad field %s", "name")
	assert.Equal(t, "bad field name", err.Message)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, fmt.Sprintf("%s: %v", "server.saveTestcase", ErrValidation), err.Error())
}

func TestIsRetryable_OnlyTransientSentinel(t *testing.T) {
	assert.True(t, IsRetryable(New("op", "Transient", ErrTransient)))
	assert.False(t, IsRetryable(New("op", "StepFailed", ErrStepFailed)))
	assert.False(t, IsRetryable(nil))
}

func TestHTTPStatus_MapsEveryTaxonomyKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", New("op", "NotFound", ErrNotFound), http.StatusNotFound},
		{"validation", New("op", "ValidationError", ErrValidation), http.StatusBadRequest},
		{"device busy", New("op", "DeviceBusy", ErrDeviceBusy), http.StatusConflict},
		{"unified cache missing", New("op", "UnifiedCacheMissing", ErrUnifiedCacheMissing), http.StatusConflict},
		{"device unavailable", New("op", "DeviceUnavailable", ErrDeviceUnavailable), http.StatusServiceUnavailable},
		{"execution aborted", New("op", "ExecutionAborted", ErrExecutionAborted), http.StatusInternalServerError},
		{"unmapped generic error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, HTTPStatus(c.err))
		})
	}
}
