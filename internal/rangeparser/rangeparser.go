// Package rangeparser parses HTTP Range headers per the subset of RFC 7233
// this proxy supports.
package rangeparser

import (
	"strconv"
	"strings"

	"github.com/yatagarasu/yatagarasu/internal/apierror"
)

// Range is a single byte range, inclusive on both ends, resolved against a
// known object size.
type Range struct {
	Start, End int64 // inclusive
}

// Parsed is the outcome of parsing a Range header.
type Parsed struct {
	// Present is false when no Range header was given, or it was
	// syntactically invalid and degrades to a full-object request.
	Present bool
	Ranges  []rawRange
}

// rawRange holds the header's raw (possibly open-ended) numbers prior to
// resolution against an object size.
type rawRange struct {
	hasStart bool
	start    int64
	hasEnd   bool
	end      int64
}

// Parse parses a `Range: bytes=...` header value. Invalid syntax returns
// Parsed{Present: false} rather than an error, matching the "degrade to full
// object" rule.
func Parse(header string) Parsed {
	if header == "" {
		return Parsed{Present: false}
	}

	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return Parsed{Present: false}
	}

	specs := strings.Split(strings.TrimPrefix(header, prefix), ",")
	ranges := make([]rawRange, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		r, ok := parseOne(spec)
		if !ok {
			return Parsed{Present: false}
		}
		ranges = append(ranges, r)
	}

	if len(ranges) == 0 {
		return Parsed{Present: false}
	}
	return Parsed{Present: true, Ranges: ranges}
}

func parseOne(spec string) (rawRange, bool) {
	idx := strings.IndexByte(spec, '-')
	if idx < 0 {
		return rawRange{}, false
	}
	startStr, endStr := spec[:idx], spec[idx+1:]

	switch {
	case startStr == "" && endStr == "":
		return rawRange{}, false
	case startStr == "": // -m: last m bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n < 0 {
			return rawRange{}, false
		}
		return rawRange{hasEnd: true, end: n}, true
	case endStr == "": // n-: from n to end
		n, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || n < 0 {
			return rawRange{}, false
		}
		return rawRange{hasStart: true, start: n}, true
	default: // n-m
		start, err1 := strconv.ParseInt(startStr, 10, 64)
		end, err2 := strconv.ParseInt(endStr, 10, 64)
		if err1 != nil || err2 != nil || start < 0 || end < start {
			return rawRange{}, false
		}
		return rawRange{hasStart: true, start: start, hasEnd: true, end: end}, true
	}
}

// Resolve resolves the first parsed range spec against an object size,
// returning a RangeNotSatisfiable apierror when the range lies entirely
// outside the object (per §8: `bytes=0-0` on a 1-byte object is satisfiable;
// `bytes=0-` on an empty object is not).
func (p Parsed) Resolve(size int64) (Range, error) {
	if !p.Present || len(p.Ranges) == 0 {
		return Range{Start: 0, End: size - 1}, nil
	}

	r := p.Ranges[0]
	var start, end int64

	switch {
	case !r.hasStart: // suffix range: last N bytes
		if r.end == 0 {
			return Range{}, apierror.New(apierror.RangeNotSatisfiable, "range exceeds object length")
		}
		start = size - r.end
		if start < 0 {
			start = 0
		}
		end = size - 1
	case !r.hasEnd: // n- : from n to end
		start = r.start
		end = size - 1
	default:
		start = r.start
		end = r.end
		if end > size-1 {
			end = size - 1
		}
	}

	if size == 0 || start > size-1 || start > end {
		return Range{}, apierror.New(apierror.RangeNotSatisfiable, "range exceeds object length")
	}

	return Range{Start: start, End: end}, nil
}

// ContentRangeHeader formats the Content-Range response header value.
func (r Range) ContentRangeHeader(size int64) string {
	return "bytes " + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End, 10) + "/" + strconv.FormatInt(size, 10)
}

// Len returns the number of bytes in the resolved range.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}
