package sdkerrors

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs_MatchesKind(t *testing.T) {
	err := New(KindNetwork, "boom")
	assert.True(t, Is(err, KindNetwork))
	assert.False(t, Is(err, KindTimeout))
	assert.False(t, Is(errors.New("plain"), KindNetwork))
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindPersistence, "write failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "root cause")
}

func TestWithStatus_SetsHTTPStatus(t *testing.T) {
	err := WithStatus("bad response", nil, http.StatusServiceUnavailable)
	assert.Equal(t, KindNetwork, err.Kind)
	require.NotNil(t, err.HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, *err.HTTPStatus)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"network", New(KindNetwork, "x"), true},
		{"timeout", New(KindTimeout, "x"), true},
		{"circuit_open", New(KindCircuitOpen, "x"), false},
		{"cancelled", New(KindCancelled, "x"), false},
		{"serialization", New(KindSerialization, "x"), false},
		{"validation", New(KindValidation, "x"), false},
		{"persistence", New(KindPersistence, "x"), false},
		{"internal", New(KindInternal, "x"), false},
		{"nil", nil, false},
		{"unclassified", errors.New("raw"), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsRetryable(c.err))
		})
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	assert.Equal(t, KindNetwork, ClassifyHTTPStatus(http.StatusRequestTimeout))
	assert.Equal(t, KindNetwork, ClassifyHTTPStatus(http.StatusTooManyRequests))
	assert.Equal(t, KindNetwork, ClassifyHTTPStatus(http.StatusBadGateway))
	assert.Equal(t, KindNetwork, ClassifyHTTPStatus(http.StatusServiceUnavailable))
	assert.Equal(t, KindNetwork, ClassifyHTTPStatus(http.StatusGatewayTimeout))
	assert.Equal(t, KindValidation, ClassifyHTTPStatus(http.StatusNotFound))
	assert.Equal(t, KindNetwork, ClassifyHTTPStatus(http.StatusInternalServerError))
	assert.Equal(t, KindInternal, ClassifyHTTPStatus(http.StatusOK))
}

func TestClassifyTransportError(t *testing.T) {
	assert.Equal(t, KindCancelled, ClassifyTransportError(context.Canceled))
	assert.Equal(t, KindTimeout, ClassifyTransportError(context.DeadlineExceeded))
	assert.Equal(t, KindNetwork, ClassifyTransportError(&net.DNSError{Err: "no such host"}))
	assert.Equal(t, KindNetwork, ClassifyTransportError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, KindNetwork, ClassifyTransportError(syscall.ECONNRESET))
	assert.Equal(t, KindTimeout, ClassifyTransportError(errors.New("request timed out")))
	assert.Equal(t, KindInternal, ClassifyTransportError(errors.New("something else")))
	assert.Equal(t, KindInternal, ClassifyTransportError(nil))
}
