//go:build linux

package stream

import (
	"io"
	"net/http"
	"os"
	"strconv"
)

// trySendfile hijacks the client connection and writes the response status
// line and headers by hand, then copies the file body through the raw
// net.Conn's ReadFrom — which *net.TCPConn backs with syscall.Sendfile on
// Linux, handing the copy to the kernel instead of round-tripping through a
// userspace buffer. Once the connection has been hijacked this function owns
// it entirely, so done is true regardless of whether the copy itself
// succeeds.
func trySendfile(w http.ResponseWriter, headers http.Header, f *os.File, size int64) (done bool, err error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return false, nil
	}

	conn, bufrw, err := hj.Hijack()
	if err != nil {
		return false, nil
	}
	defer conn.Close()

	if _, err := bufrw.WriteString("HTTP/1.1 200 OK\r\n"); err != nil {
		return true, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			if _, err := bufrw.WriteString(k + ": " + v + "\r\n"); err != nil {
				return true, err
			}
		}
	}
	if _, err := bufrw.WriteString("Content-Length: " + strconv.FormatInt(size, 10) + "\r\n\r\n"); err != nil {
		return true, err
	}
	if err := bufrw.Flush(); err != nil {
		return true, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return true, err
	}

	readerFrom, ok := conn.(io.ReaderFrom)
	if !ok {
		_, err := io.Copy(conn, f)
		return true, err
	}
	_, err = readerFrom.ReadFrom(f)
	return true, err
}
