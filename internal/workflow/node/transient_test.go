package node

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline wrapped", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"marked", &TransientError{Err: errors.New("boom")}, true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"status 429", errors.New("error, status code: 429, message: slow down"), true},
		{"status 503", errors.New("error, status code: 503, message: busy"), true},
		{"status 400", errors.New("error, status code: 400, message: bad request"), false},
		{"rate limit text", errors.New("Rate limit reached for requests"), true},
		{"auth", errors.New("invalid api key"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIsResponseFormatUnsupportedError(t *testing.T) {
	assert.True(t, IsResponseFormatUnsupportedError(errors.New("unsupported parameter: response_format")))
	assert.False(t, IsResponseFormatUnsupportedError(errors.New("status code: 500")))
	assert.False(t, IsResponseFormatUnsupportedError(nil))
}
