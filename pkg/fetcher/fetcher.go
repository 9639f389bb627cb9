// Package fetcher performs single-flight HTTP GET/HEAD requests against
// upstream repositories on behalf of the protocol adapters (component C).
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrorKind classifies why a fetch failed.
type ErrorKind string

const (
	NotFound      ErrorKind = "not-found"
	UpstreamError ErrorKind = "upstream-error"
	TransportErr  ErrorKind = "transport-error"
	Timeout       ErrorKind = "timeout"
)

type ctxKey int

const maxRedirsCtxKey ctxKey = 0

const defaultMaxRedirs = 10

// Error wraps a fetch failure with its ErrorKind.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Result is the outcome of a successful fetch.
type Result struct {
	Body        []byte
	StatusCode  int
	ContentType string
	Header      http.Header
}

// Options parametrize a single Fetch call.
type Options struct {
	Timeout       time.Duration
	RangeHdr      string // e.g. "bytes=0-1023"
	Accept        string
	UA            string
	MaxRedirs     int
	BasicAuthUser string // sent via Basic auth on the upstream call only, never echoed to the client
	BasicAuthPass string
}

// Fetcher performs single-flight HTTP fetches against upstream URLs.
type Fetcher struct {
	client *http.Client
	group  singleflight.Group
	ua     string
}

const defaultUA = "mirror-server/1.0 (+https://github.com/cachehub/mirror)"

// New creates a Fetcher with a transport tuned for many small idle-kept
// connections to distinct upstream hosts, mirroring a pull-through proxy's
// connection-pooling needs.
func New(ua string) *Fetcher {
	if ua == "" {
		ua = defaultUA
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				limit := defaultMaxRedirs
				if v, ok := req.Context().Value(maxRedirsCtxKey).(int); ok && v > 0 {
					limit = v
				}
				if len(via) >= limit {
					return errors.New("fetcher: too many redirects")
				}
				return nil
			},
		},
		ua: ua,
	}
}

// Fetch issues method (GET or HEAD) against url, coalescing concurrent
// identical requests into a single upstream round trip (single-flight):
// the first caller performs the fetch, every concurrent caller for the
// same key observes the same Result.
func (f *Fetcher) Fetch(ctx context.Context, method, url string, opts Options) (Result, error) {
	key := method + " " + url + " " + opts.RangeHdr
	v, err, _ := f.group.Do(key, func() (any, error) {
		return f.doFetch(ctx, method, url, opts)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (f *Fetcher) doFetch(ctx context.Context, method, url string, opts Options) (Result, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if opts.MaxRedirs > 0 {
		reqCtx = context.WithValue(reqCtx, maxRedirsCtxKey, opts.MaxRedirs)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, nil)
	if err != nil {
		return Result{}, &Error{Kind: TransportErr, Message: fmt.Sprintf("building request: %v", err)}
	}

	ua := opts.UA
	if ua == "" {
		ua = f.ua
	}
	req.Header.Set("User-Agent", ua)
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}
	if opts.RangeHdr != "" {
		req.Header.Set("Range", opts.RangeHdr)
	}
	if opts.BasicAuthUser != "" {
		req.SetBasicAuth(opts.BasicAuthUser, opts.BasicAuthPass)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, &Error{Kind: Timeout, Message: fmt.Sprintf("fetching %s: timed out", url)}
		}
		return Result{}, &Error{Kind: TransportErr, Message: fmt.Sprintf("fetching %s: %v", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{}, &Error{Kind: NotFound, Status: resp.StatusCode, Message: fmt.Sprintf("%s: not found", url)}
	}
	if resp.StatusCode >= 400 {
		return Result{}, &Error{Kind: UpstreamError, Status: resp.StatusCode, Message: fmt.Sprintf("%s: upstream status %d", url, resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &Error{Kind: TransportErr, Message: fmt.Sprintf("reading body: %v", err)}
	}

	return Result{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
	}, nil
}
