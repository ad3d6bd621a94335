// Package stream implements the downstream-facing half of the streaming
// pipeline: serving an already-buffered cache entry, serving a disk-backed
// entry with a sendfile fast path where the platform supports it, and
// copying an upstream response to the client while accumulating a capped
// copy for the cache in the same pass.
package stream

import (
	"io"
	"net/http"
	"os"
	"strconv"
)

// WriteEntry streams an in-memory buffer straight to the client; used for
// small cache hits where a copy is already cheap.
func WriteEntry(w http.ResponseWriter, headers http.Header, body []byte) error {
	applyHeaders(w, headers, int64(len(body)))
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(body)
	return err
}

// ServeFile streams f to the client, taking the platform's sendfile fast
// path when size is at or above sendfileMin and the response writer can be
// hijacked onto a raw connection; otherwise it falls back to a generic
// read+write copy.
func ServeFile(w http.ResponseWriter, headers http.Header, f *os.File, size, sendfileMin int64) error {
	if size >= sendfileMin {
		if done, err := trySendfile(w, headers, f, size); done {
			return err
		}
	}

	applyHeaders(w, headers, size)
	w.WriteHeader(http.StatusOK)
	_, err := io.Copy(w, f)
	return err
}

func applyHeaders(w http.ResponseWriter, headers http.Header, size int64) {
	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
}

// CopyWithBudget copies src to dst, byte for byte, while simultaneously
// accumulating a second copy capped at maxBytes. If the source turns out to
// be larger than maxBytes the accumulation is discarded — ok is false — but
// the copy to dst is unaffected and continues to completion. Callers use the
// accumulated bytes to populate the cache.
func CopyWithBudget(dst io.Writer, src io.Reader, maxBytes int64) (accumulated []byte, ok bool, err error) {
	buf := make([]byte, 32*1024)
	initialCap := maxBytes
	if initialCap > 64*1024 {
		initialCap = 64 * 1024
	}
	acc := make([]byte, 0, initialCap)
	overBudget := false

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return nil, false, werr
			}
			if !overBudget {
				if int64(len(acc)+n) > maxBytes {
					overBudget = true
					acc = nil
				} else {
					acc = append(acc, buf[:n]...)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, false, rerr
		}
	}

	if overBudget {
		return nil, false, nil
	}
	return acc, true, nil
}
