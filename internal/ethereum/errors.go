package ethereum

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	goethereum "github.com/ethereum/go-ethereum"

	"github.com/kjannette/defi-pipeline/internal/retry"
)

// ConnectivityError is a network or provider fault. Transient variants
// (timeouts, 429, 5xx) are retried with backoff before being surfaced.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RangeTooLargeError means the provider rejected a log-query span. The
// scanner handles it by bisecting the range; it is never retried as-is.
type RangeTooLargeError struct {
	From, To uint64
	Err      error
}

func (e *RangeTooLargeError) Error() string {
	return fmt.Sprintf("log query range [%d, %d] rejected by provider: %v", e.From, e.To, e.Err)
}

func (e *RangeTooLargeError) Unwrap() error { return e.Err }

// Provider wording for over-wide getLogs spans varies; these cover Infura,
// Alchemy and geth-style nodes.
var rangeTooLargeMarkers = []string{
	"query returned more than",
	"block range is too large",
	"block range is too wide",
	"exceed maximum block range",
	"response size exceeded",
	"range too large",
}

var transientMarkers = []string{
	"429",
	"too many requests",
	"rate limit",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"connection refused",
	"connection reset",
	"broken pipe",
	"eof",
	"i/o timeout",
}

// classify maps a raw RPC failure onto the pipeline's error taxonomy and
// marks it permanent when retrying cannot help.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}
	if errors.Is(err, goethereum.NotFound) {
		return retry.Permanent(fmt.Errorf("%s: %w", op, err))
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rangeTooLargeMarkers {
		if strings.Contains(msg, marker) {
			return retry.Permanent(&RangeTooLargeError{Err: err})
		}
	}

	if isTransient(err, msg) {
		return &ConnectivityError{Op: op, Err: err}
	}

	// Malformed or otherwise unrecognized responses are reported
	// immediately; retrying a bad payload yields the same bad payload.
	return retry.Permanent(&ConnectivityError{Op: op, Err: err})
}

func isTransient(err error, msg string) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsRangeTooLarge reports whether err (possibly wrapped by the retry layer)
// is a provider span rejection.
func IsRangeTooLarge(err error) bool {
	var rtl *RangeTooLargeError
	return errors.As(err, &rtl)
}
