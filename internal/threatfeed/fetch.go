// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package threatfeed

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/model"
)

// fetchResult carries one conditional GET outcome.
type fetchResult struct {
	notModified  bool
	permanent    bool // HTTP 4xx: retrying will not help
	body         []byte
	etag         string
	lastModified string
}

// maxFeedBody caps how much of an upstream list is read. The largest public
// blocklists are tens of MB.
const maxFeedBody = 128 << 20

// fetch performs the conditional GET for one feed.
func (i *Ingestor) fetch(ctx context.Context, feed *model.ThreatFeed) (*fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "building feed request")
	}
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}
	req.Header.Set("User-Agent", "bindctl-feed/1.0")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindFeedFetch, "fetching "+feed.URL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &fetchResult{notModified: true}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &fetchResult{permanent: true},
			errors.Errorf(errors.KindFeedFetch, "%s returned %s", feed.URL, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf(errors.KindFeedFetch, "%s returned %s", feed.URL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindFeedFetch, "reading "+feed.URL)
	}

	// Some lists ship as .gz files without a Content-Encoding header; the
	// transport only decompresses when the header is present.
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, errors.KindFeedParse, "decompressing "+feed.URL)
		}
		body, err = io.ReadAll(io.LimitReader(gz, maxFeedBody))
		if err != nil {
			return nil, errors.Wrap(err, errors.KindFeedParse, "decompressing "+feed.URL)
		}
	}

	return &fetchResult{
		body:         body,
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}, nil
}
