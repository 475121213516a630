package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFatalAPIError(t *testing.T) {
	fatal := []error{
		errors.New("insufficient credit balance"),
		errors.New("rate limit exceeded"),
		errors.New("quota exceeded for model"),
		errors.New("billing account inactive"),
		errors.New("invalid api key"),
		errors.New("authentication failed"),
		errors.New("unauthorized request"),
		errors.New("HTTP 401: not allowed"),
		errors.New("HTTP 403: forbidden"),
		fmt.Errorf("embed: %w", errors.New("credit balance too low")),
	}
	for _, err := range fatal {
		assert.True(t, isFatalAPIError(err), "expected fatal: %v", err)
	}

	recoverable := []error{
		nil,
		errors.New("connection reset"),
		errors.New("HTTP 404: not found"),
		errors.New("context deadline exceeded"),
		errors.New("EOF"),
	}
	for _, err := range recoverable {
		assert.False(t, isFatalAPIError(err), "expected recoverable: %v", err)
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("fatal errors carry the sentinel", func(t *testing.T) {
		wrapped := wrapFatalError(errors.New("invalid api key provided"))
		require.ErrorIs(t, wrapped, ErrFatalAPI)
	})

	t.Run("sentinel survives further wrapping", func(t *testing.T) {
		// The linker wraps item errors again before checking them.
		wrapped := fmt.Errorf("complete: %w", wrapFatalError(errors.New("quota exceeded")))
		require.ErrorIs(t, wrapped, ErrFatalAPI)
	})

	t.Run("recoverable errors pass through unchanged", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		assert.NotErrorIs(t, result, ErrFatalAPI)
		assert.Same(t, err, result)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, wrapFatalError(nil))
	})
}
