// Package generic implements the fallback HTTP adapter (spec 4.D.7) for
// ecosystems without bespoke rewriting needs (Maven, Gradle, Cargo, NuGet,
// CRAN, CTAN, CUDA, Pacman, ...): local-file-first lookup, else a
// streaming proxy to the upstream URL with Range passthrough.
package generic

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/metrics"
)

const defaultTTL = 30 * 24 * time.Hour

// Adapter proxies an arbitrary upstream tree verbatim, keyed by the
// URL-encoded upstream path.
type Adapter struct {
	adapter.Deps
	EcosystemName string // e.g. "maven", "cargo" — used in cache keys and metrics
	UpstreamBase  string
	TTL           time.Duration
}

func New(deps adapter.Deps, ecosystemName, upstreamBase string, ttl time.Duration) *Adapter {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Adapter{
		Deps:          deps,
		EcosystemName: ecosystemName,
		UpstreamBase:  strings.TrimSuffix(upstreamBase, "/"),
		TTL:           ttl,
	}
}

func (a *Adapter) Name() string { return a.EcosystemName }

func (a *Adapter) CacheStats() (int64, int64) {
	st, err := a.Store.Stats()
	if err != nil {
		return 0, 0
	}
	return st.FileCount, st.TotalBytes
}

// Handle serves subpath local-file-first, falling through to a streaming
// proxy fetch with Range passthrough on miss (4.D.7).
func (a *Adapter) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	subpath = strings.TrimPrefix(subpath, "/")
	key := url.QueryEscape(subpath)

	if entry, err := a.Store.Lookup(key); err == nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, entry.Size, true, "")
		return adapter.ServeCached(w, r, entry)
	}

	opts := fetcher.Options{}
	if rangeHdr := r.Header.Get("Range"); rangeHdr != "" {
		opts.RangeHdr = rangeHdr
	}

	timer := metrics.NewTimer()
	res, err := a.Fetcher.Fetch(ctx, http.MethodGet, a.UpstreamBase+"/"+subpath, opts)
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, 0, false, err.Error())
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = adapter.GuessContentType(subpath)
	}

	// A Range request's partial response must never be persisted as the
	// full cache entry (4.D's common rule 2 extended to partial content).
	if opts.RangeHdr != "" {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(res.StatusCode)
		_, werr := w.Write(res.Body)
		return werr
	}

	if err := a.Store.Put(key, bytes.NewReader(res.Body), contentType, a.TTL); err != nil {
		w.Header().Set("Content-Type", contentType)
		_, werr := io.Copy(w, bytes.NewReader(res.Body))
		return werr
	}
	adapter.RecordDownload(a.Metadata, a.Name(), key, int64(len(res.Body)), true, "")

	entry, err := a.Store.Lookup(key)
	if err != nil {
		return err
	}
	return adapter.ServeCached(w, r, entry)
}
