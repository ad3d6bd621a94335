//go:build !linux

package stream

import (
	"net/http"
	"os"
)

// trySendfile is a no-op on platforms without a grounded sendfile path;
// ServeFile falls back to the generic read+write copy.
func trySendfile(_ http.ResponseWriter, _ http.Header, _ *os.File, _ int64) (bool, error) {
	return false, nil
}
