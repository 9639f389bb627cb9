// Package adapter defines the shared contract every protocol-specific cache
// adapter (pypi, oci, apt, yum, npm, goproxy, generic) implements, plus the
// helpers they share: content-store lookup/put, download recording, and
// upstream error mapping.
package adapter

import (
	"context"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/metadata"
	"github.com/cachehub/mirror/pkg/metrics"
	"github.com/cachehub/mirror/pkg/store"
	"github.com/cachehub/mirror/pkg/types"
)

// Adapter translates one ecosystem's URL grammar into content-store cache
// keys and upstream URLs.
type Adapter interface {
	// Name is the ecosystem identifier used in cache keys, metrics labels,
	// and config (e.g. "pypi", "oci", "npm").
	Name() string

	// Handle serves subpath (the URL path with the ecosystem's router
	// prefix already stripped) against w/r.
	Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error

	// CacheStats reports this ecosystem's footprint for the control API.
	CacheStats() (files, bytes int64)
}

// Deps bundles the collaborators every adapter is built from.
type Deps struct {
	Store    *store.Store
	Fetcher  *fetcher.Fetcher
	Metadata metadata.Backend
}

// ServeCached writes entry to w with the appropriate headers, honoring a
// Range request when present (4.E: range requests emit 206).
func ServeCached(w http.ResponseWriter, r *http.Request, entry store.Entry) error {
	defer entry.Body.Close()

	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.Header().Set("Content-Length", itoa(entry.Size))

	if rangeHdr := r.Header.Get("Range"); rangeHdr != "" {
		return serveRange(w, entry, rangeHdr)
	}

	w.WriteHeader(http.StatusOK)
	_, err := io.Copy(w, entry.Body)
	return err
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// RecordDownload writes a download audit entry; it does nothing when meta
// is nil. It has no skip flag: adapters simply do not call it for HTML
// directory/index listings, which do not count per 4.D's common rules.
func RecordDownload(meta metadata.Backend, ecosystem, path string, size int64, success bool, errMsg string) {
	if meta == nil {
		return
	}
	_ = meta.RecordDownload(&types.DownloadRecord{
		FilePath:     path,
		FileSize:     size,
		DownloadTime: time.Now(),
		Success:      success,
		ErrorMessage: errMsg,
	})
}

// ObserveFetch records a fetch outcome to Prometheus.
func ObserveFetch(ecosystem string, timer *metrics.Timer, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if fe, ok := err.(*fetcher.Error); ok {
			outcome = string(fe.Kind)
		}
	}
	metrics.FetchRequestsTotal.WithLabelValues(ecosystem, outcome).Inc()
	timer.ObserveDurationVec(metrics.FetchDuration, ecosystem)
}

// UpstreamStatus maps a fetcher error to the HTTP status the adapter
// should return, per the common rule: 404 passes through, everything else
// is a 502.
func UpstreamStatus(err error) int {
	if fe, ok := err.(*fetcher.Error); ok && fe.Kind == fetcher.NotFound {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

// GuessContentType returns a MIME type for path's extension, falling back
// to application/octet-stream for unknown extensions (4.D.7's whitelist
// rule, applied generically by every adapter for static artifacts).
func GuessContentType(path string) string {
	ext := filepath.Ext(path)
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	switch ext {
	case ".whl", ".egg":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz", ".tgz":
		return "application/gzip"
	case ".deb":
		return "application/vnd.debian.binary-package"
	case ".rpm":
		return "application/x-rpm"
	default:
		return "application/octet-stream"
	}
}
