package pipeline

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/yatagarasu/yatagarasu/internal/replica"
	"github.com/yatagarasu/yatagarasu/internal/signer"
)

// listBucketResult is the subset of S3's ListObjectsV2 XML response the
// prewarm lister needs; no pack example carries a grounded S3 XML client, so
// this is a direct encoding/xml mapping of the documented wire format.
type listBucketResult struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	IsTruncated           bool     `xml:"IsTruncated"`
	NextContinuationToken string   `xml:"NextContinuationToken"`
	Contents              []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
}

// listObjects pages through a bucket's key space under prefix using
// ListObjectsV2 against the given replica, signing each page request with
// SigV4. It returns every matching key; callers needing filters apply them
// afterward.
func listObjects(ctx context.Context, client *http.Client, r *replica.Replica, prefix string) ([]string, error) {
	var keys []string
	token := ""

	for {
		u, err := url.Parse(r.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid replica endpoint: %w", err)
		}
		q := url.Values{}
		q.Set("list-type", "2")
		if prefix != "" {
			q.Set("prefix", prefix)
		}
		if token != "" {
			q.Set("continuation-token", token)
		}
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Host = u.Host

		signer.Sign(req, signer.Credentials{
			AccessKey: r.AccessKey,
			SecretKey: r.SecretKey,
			Region:    r.Region,
		}, nil)

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("listing objects: upstream returned status %d", resp.StatusCode)
		}
		if readErr != nil {
			return nil, readErr
		}

		var result listBucketResult
		if err := xml.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("parsing list response: %w", err)
		}

		for _, c := range result.Contents {
			keys = append(keys, c.Key)
		}

		if !result.IsTruncated || result.NextContinuationToken == "" {
			break
		}
		token = result.NextContinuationToken
	}

	return keys, nil
}
