// Package httpput uploads files to the NAS REST endpoint with a streamed
// HTTP PUT per file.
package httpput

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"nasupload/internal/transport"
	"nasupload/internal/upload"
)

const defaultHTTPTimeout = 30 * time.Minute

type Options struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

// Transport implements upload.Transport over HTTP.
type Transport struct {
	endpoint string
	client   *http.Client
}

// call is the handle of one in-flight PUT.
type call struct {
	id     string
	cancel context.CancelFunc
}

func New(opts Options) *Transport {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Transport{endpoint: strings.TrimRight(opts.Endpoint, "/"), client: client}
}

func (t *Transport) Start(ctx context.Context, req upload.Request, hooks upload.Hooks) upload.Handle {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		if err := t.put(ctx, req, hooks); err != nil {
			hooks.OnFailure(err)
			return
		}
		hooks.OnSuccess()
	}()
	return &call{id: req.ID, cancel: cancel}
}

func (t *Transport) Cancel(h upload.Handle) {
	if c, ok := h.(*call); ok && c != nil {
		log.Debug().Str("upload_id", c.id).Msg("cancelling http upload")
		c.cancel()
	}
}

// TargetURL builds the PUT address of a file under destination.
func (t *Transport) TargetURL(destination, filename string) (string, error) {
	elems := make([]string, 0, 4)
	for _, part := range strings.Split(strings.Trim(destination, "/"), "/") {
		if part != "" {
			elems = append(elems, part)
		}
	}
	elems = append(elems, filename)
	target, err := url.JoinPath(t.endpoint, elems...)
	if err != nil {
		return "", fmt.Errorf("build target url: %w", err)
	}
	return target, nil
}

func (t *Transport) put(ctx context.Context, req upload.Request, hooks upload.Hooks) error {
	target, err := t.TargetURL(req.Destination, req.Filename)
	if err != nil {
		return err
	}
	body, err := req.Source.Open()
	if err != nil {
		return err //nolint:wrapcheck // already wrapped by the source
	}
	defer func() { _ = body.Close() }()

	contentType, sniffed := transport.DetectContentType(body)
	progress := transport.NewProgressReader(sniffed, hooks.OnProgress)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, target, progress)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.ContentLength = req.TotalBytes
	httpReq.Header.Set("Content-Type", contentType)

	httpResponse, err := t.client.Do(httpReq)
	if err != nil {
		log.Warn().Str("upload_id", req.ID).Str("url", target).Err(err).Msg("http upload failed")
		return fmt.Errorf("put %s: %w", req.Filename, err)
	}
	defer func() { _ = httpResponse.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(httpResponse.Body, 4<<10))

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		log.Warn().Str("upload_id", req.ID).Str("url", target).Int("status", httpResponse.StatusCode).Msg("unexpected status code")
		return fmt.Errorf("http %d", httpResponse.StatusCode)
	}
	return nil
}
