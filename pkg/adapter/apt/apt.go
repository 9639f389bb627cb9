// Package apt implements the Debian/Ubuntu archive protocol adapter (spec
// 4.D.3): Release/InRelease metadata, on-the-fly Packages.gz decompression,
// and pool package downloads, trying each configured mirror in order.
package apt

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/metrics"
)

const (
	metadataTTL = 15 * time.Minute
	poolTTL     = 365 * 24 * time.Hour
)

const unsignedBanner = "# mirror-generated InRelease: NOT cryptographically signed\n" +
	"# upstream did not publish an InRelease file for this suite\n" +
	"#\n"

// Adapter serves a Debian-family archive against an ordered list of
// mirrors, falling through to the next on any fetch failure.
type Adapter struct {
	adapter.Deps
	Mirrors []string // tried in order, e.g. ["https://deb.debian.org/debian"]
}

func New(deps adapter.Deps, mirrors []string) *Adapter {
	return &Adapter{Deps: deps, Mirrors: mirrors}
}

func (a *Adapter) Name() string { return "apt" }

func (a *Adapter) CacheStats() (int64, int64) {
	st, err := a.Store.Stats()
	if err != nil {
		return 0, 0
	}
	return st.FileCount, st.TotalBytes
}

// Handle dispatches subpath (the path under the distro prefix, including
// "dists/..." or "pool/...") to metadata or pool-file serving.
func (a *Adapter) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	subpath = strings.Trim(subpath, "/")

	switch {
	case strings.HasSuffix(subpath, "/InRelease"):
		return a.serveInRelease(ctx, w, r, subpath)
	case strings.HasSuffix(subpath, "/Packages") && !strings.HasSuffix(subpath, ".gz"):
		return a.servePackagesPlain(ctx, w, r, subpath)
	case strings.HasPrefix(subpath, "pool/"):
		return a.servePoolFile(ctx, w, r, subpath)
	default:
		return a.serveRaw(ctx, w, r, subpath)
	}
}

// serveRaw handles Release, Release.gpg, Packages.gz, and any other
// metadata file verbatim (no transformation).
func (a *Adapter) serveRaw(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	key := "release:" + subpath
	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	body, contentType, err := a.fetchFromMirrors(ctx, subpath)
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	_ = a.Store.Put(key, bytes.NewReader(body), contentType, metadataTTL)
	w.Header().Set("Content-Type", contentType)
	_, werr := w.Write(body)
	return werr
}

// serveInRelease prefers the real upstream InRelease but, if every mirror
// lacks one, synthesizes an explicitly-unsigned banner over the cached
// Release text (4.D.3).
func (a *Adapter) serveInRelease(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	key := "release:" + subpath
	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	body, contentType, err := a.fetchFromMirrors(ctx, subpath)
	if err == nil {
		_ = a.Store.Put(key, bytes.NewReader(body), contentType, metadataTTL)
		w.Header().Set("Content-Type", contentType)
		_, werr := w.Write(body)
		return werr
	}

	releasePath := strings.TrimSuffix(subpath, "InRelease") + "Release"
	releaseBody, _, relErr := a.fetchFromMirrors(ctx, releasePath)
	if relErr != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	synthesized := append([]byte(unsignedBanner), releaseBody...)
	_ = a.Store.Put(key, bytes.NewReader(synthesized), "text/plain; charset=utf-8", metadataTTL)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, werr := w.Write(synthesized)
	return werr
}

// servePackagesPlain fetches the upstream Packages.gz, decompresses it, and
// serves plaintext, caching the decompressed form under the uncompressed
// cache key (4.D.3).
func (a *Adapter) servePackagesPlain(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	key := "packages:" + subpath
	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	gzBody, _, err := a.fetchFromMirrors(ctx, subpath+".gz")
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	gzReader, err := gzip.NewReader(bytes.NewReader(gzBody))
	if err != nil {
		return fmt.Errorf("apt: decompressing %s: %w", subpath, err)
	}
	defer gzReader.Close()
	plain, err := io.ReadAll(gzReader)
	if err != nil {
		return fmt.Errorf("apt: reading decompressed %s: %w", subpath, err)
	}

	_ = a.Store.Put(key, bytes.NewReader(plain), "text/plain; charset=utf-8", metadataTTL)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, werr := w.Write(plain)
	return werr
}

func (a *Adapter) servePoolFile(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	key := "pool:" + subpath
	if entry, err := a.Store.Lookup(key); err == nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, entry.Size, true, "")
		return adapter.ServeCached(w, r, entry)
	}

	body, _, err := a.fetchFromMirrors(ctx, subpath)
	if err != nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, 0, false, err.Error())
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	contentType := adapter.GuessContentType(subpath)
	if err := a.Store.Put(key, bytes.NewReader(body), contentType, poolTTL); err != nil {
		return err
	}
	adapter.RecordDownload(a.Metadata, a.Name(), key, int64(len(body)), true, "")

	entry, err := a.Store.Lookup(key)
	if err != nil {
		return err
	}
	return adapter.ServeCached(w, r, entry)
}

// fetchFromMirrors tries each configured mirror in order, returning the
// first success; the last error observed is returned if all fail.
func (a *Adapter) fetchFromMirrors(ctx context.Context, subpath string) ([]byte, string, error) {
	var lastErr error
	for _, mirror := range a.Mirrors {
		timer := metrics.NewTimer()
		res, err := a.Fetcher.Fetch(ctx, http.MethodGet, strings.TrimSuffix(mirror, "/")+"/"+subpath, fetcher.Options{})
		adapter.ObserveFetch(a.Name(), timer, err)
		if err == nil {
			ct := res.ContentType
			if ct == "" {
				ct = adapter.GuessContentType(subpath)
			}
			return res.Body, ct, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("apt: no mirrors configured")
	}
	return nil, "", lastErr
}
