// Package router performs longest-prefix matching from a URL path to a
// configured bucket binding.
package router

import (
	"sort"
	"strings"

	"github.com/yatagarasu/yatagarasu/internal/apierror"
)

// Binding is the subset of bucket config the router needs to match and
// extract a key.
type Binding struct {
	Name       string
	PathPrefix string
}

// Router matches normalized request paths against bucket bindings, longest
// prefix first.
type Router struct {
	bindings []Binding
}

// New builds a Router from bucket bindings, sorted by descending prefix
// length so the longest (most specific) match wins. Declaration order among
// equal-length prefixes is preserved as the tie-break.
func New(bindings []Binding) *Router {
	sorted := make([]Binding, len(bindings))
	copy(sorted, bindings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].PathPrefix) > len(sorted[j].PathPrefix)
	})
	return &Router{bindings: sorted}
}

// Result is a successful route: the matched binding and the extracted S3
// object key (prefix stripped, leading slash trimmed).
type Result struct {
	Binding Binding
	Key     string
}

// Route normalizes path and returns the first binding whose prefix matches a
// leading path-segment boundary.
func (r *Router) Route(path string) (Result, error) {
	normalized, err := normalize(path)
	if err != nil {
		return Result{}, err
	}

	for _, b := range r.bindings {
		if matchesPrefix(normalized, b.PathPrefix) {
			key := strings.TrimPrefix(normalized, b.PathPrefix)
			key = strings.TrimPrefix(key, "/")
			return Result{Binding: b, Key: key}, nil
		}
	}
	return Result{}, apierror.New(apierror.RouteNotFound, "no bucket matches this path")
}

// matchesPrefix reports whether normalized starts with prefix at a path
// segment boundary: an exact match, the next character in normalized after
// the prefix is '/', or the prefix itself ends in '/'.
func matchesPrefix(normalized, prefix string) bool {
	if !strings.HasPrefix(normalized, prefix) {
		return false
	}
	if len(normalized) == len(prefix) {
		return true
	}
	rest := normalized[len(prefix):]
	return strings.HasPrefix(rest, "/") || strings.HasSuffix(prefix, "/")
}

// normalize collapses repeated slashes and rejects ".." segments. Query and
// fragment must already be stripped by the caller (e.g. via url.URL.Path).
func normalize(path string) (string, error) {
	if path == "" {
		path = "/"
	}

	segments := strings.Split(path, "/")
	var cleaned []string
	for i, seg := range segments {
		if seg == "" {
			if i == 0 || i == len(segments)-1 {
				continue
			}
			continue
		}
		if seg == ".." {
			return "", apierror.New(apierror.BadRequest, "path must not contain .. segments")
		}
		cleaned = append(cleaned, seg)
	}

	return "/" + strings.Join(cleaned, "/"), nil
}
