// Package signer implements outbound AWS Signature Version 4 signing of
// GET/HEAD requests against S3-compatible backends.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	algorithm      = "AWS4-HMAC-SHA256"
	requestType    = "aws4_request"
	service        = "s3"
	amzDateFormat  = "20060102T150405Z"
	shortDateFormat = "20060102"
)

// emptyPayloadHash is hex(SHA256("")), computed once rather than hardcoded.
var emptyPayloadHash = func() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// Credentials identifies the replica a request is signed against.
type Credentials struct {
	AccessKey string
	SecretKey string
	Region    string
}

// Clock returns the current time; overridden in tests for determinism.
type Clock func() time.Time

// Sign adds Authorization, X-Amz-Date and X-Amz-Content-Sha256 headers to req
// so that it is a validly-signed SigV4 request for the given credentials. req
// must already have its final URL (including query string) and Host set.
// now defaults to time.Now when nil.
func Sign(req *http.Request, creds Credentials, now Clock) {
	if now == nil {
		now = time.Now
	}
	t := now().UTC()
	amzDate := t.Format(amzDateFormat)
	shortDate := t.Format(shortDateFormat)

	payloadHash := emptyPayloadHash
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	if req.Host == "" {
		req.Host = req.URL.Host
	}

	canonicalRequest, signedHeaders := buildCanonicalRequest(req, payloadHash)

	credentialScope := strings.Join([]string{shortDate, creds.Region, service, requestType}, "/")
	stringToSign := buildStringToSign(amzDate, credentialScope, canonicalRequest)

	signingKey := deriveSigningKey(creds.SecretKey, shortDate, creds.Region)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	authHeader := algorithm + " Credential=" + creds.AccessKey + "/" + credentialScope +
		", SignedHeaders=" + signedHeaders + ", Signature=" + signature
	req.Header.Set("Authorization", authHeader)
}

func buildCanonicalRequest(req *http.Request, payloadHash string) (canonicalRequest, signedHeaders string) {
	canonicalURI := canonicalizeURI(req.URL.Path)
	canonicalQuery := canonicalizeQuery(req.URL.Query())
	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)

	canonicalRequest = strings.Join([]string{
		req.Method,
		canonicalURI,
		canonicalQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
	return canonicalRequest, signedHeaders
}

func canonicalizeURI(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func canonicalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		vs := append([]string{}, values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(pairs, "&")
}

func canonicalizeHeaders(req *http.Request) (canonicalHeaders, signedHeaders string) {
	headerMap := map[string][]string{
		"host": {req.Host},
	}
	for name, values := range req.Header {
		lower := strings.ToLower(name)
		if lower == "x-amz-date" || lower == "x-amz-content-sha256" {
			headerMap[lower] = values
		}
	}

	names := make([]string, 0, len(headerMap))
	for name := range headerMap {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		values := headerMap[name]
		trimmed := make([]string, len(values))
		for i, v := range values {
			trimmed[i] = strings.TrimSpace(v)
		}
		lines = append(lines, name+":"+strings.Join(trimmed, ",")+"\n")
	}

	canonicalHeaders = strings.Join(lines, "")
	signedHeaders = strings.Join(names, ";")
	return canonicalHeaders, signedHeaders
}

func buildStringToSign(amzDate, credentialScope, canonicalRequest string) string {
	hash := sha256.Sum256([]byte(canonicalRequest))
	return algorithm + "\n" + amzDate + "\n" + credentialScope + "\n" + hex.EncodeToString(hash[:])
}

func deriveSigningKey(secretKey, shortDate, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), shortDate)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, requestType)
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
