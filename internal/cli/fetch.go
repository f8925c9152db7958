package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/crud"
	"github.com/jacentio/canopy/store"
)

const maxFetchBody = 1 << 20

// httpFetcher loads cache entries with GET <base>/<key>; the response body
// is the JSON document.
func httpFetcher(client *http.Client, base string) crud.Fetcher {
	base = strings.TrimRight(base, "/")
	return func(ctx context.Context, key string) (store.Doc, error) {
		u := base + "/" + url.PathEscape(key)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, apierr.New(apierr.NotFound, "").WithDebug("source has no entry %q", key)
		case resp.StatusCode >= 300:
			return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
		}
		var doc store.Doc
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxFetchBody)).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", u, err)
		}
		return doc, nil
	}
}
