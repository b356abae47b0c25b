package fetch

import (
	"context"
	"io"

	gribhttp "github.com/ligustah/gribslurp/internal/http"
)

// HTTP fetches objects addressed by http(s) URLs.
type HTTP struct {
	client *gribhttp.Client
	cache  cache
}

// NewHTTP returns a fetcher using client. The client is shared by every
// concurrent fetch.
func NewHTTP(client *gribhttp.Client, opts Options) *HTTP {
	return &HTTP{
		client: client,
		cache:  cache{transport: "http", opts: opts.withDefaults()},
	}
}

// Fetch implements Fetcher. A nil rng issues a plain GET bounded by the
// client's whole-object timeout.
func (h *HTTP) Fetch(ctx context.Context, source string, rng *Range, dest string) (int64, error) {
	open := func(ctx context.Context) (io.ReadCloser, int64, error) {
		var (
			body *gribhttp.Body
			err  error
		)
		if rng == nil {
			body, err = h.client.Get(ctx, source)
		} else {
			body, err = h.client.GetRange(ctx, source, rng.Start, rng.End)
		}
		if err != nil {
			return nil, 0, err
		}
		return body, body.ContentLength, nil
	}
	return h.cache.fetch(ctx, open, source, rng, dest)
}

// Open implements Opener.
func (h *HTTP) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	body, err := h.client.Get(ctx, source)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Size implements Sizer with a HEAD request.
func (h *HTTP) Size(ctx context.Context, source string) (int64, error) {
	info, err := h.client.Head(ctx, source)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}
