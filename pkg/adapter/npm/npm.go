// Package npm implements the Node package registry protocol adapter (spec
// 4.D.5): package metadata (latest or pinned version) and tarball
// downloads, preserving scoped package names.
package npm

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/metrics"
)

const (
	metadataTTL = 5 * time.Minute
	tarballTTL  = 365 * 24 * time.Hour
)

// Adapter serves the npm registry API against a single upstream (e.g.
// https://registry.npmjs.org).
type Adapter struct {
	adapter.Deps
	UpstreamBase string
}

func New(deps adapter.Deps, upstreamBase string) *Adapter {
	return &Adapter{Deps: deps, UpstreamBase: strings.TrimSuffix(upstreamBase, "/")}
}

func (a *Adapter) Name() string { return "npm" }

func (a *Adapter) CacheStats() (int64, int64) {
	st, err := a.Store.Stats()
	if err != nil {
		return 0, 0
	}
	return st.FileCount, st.TotalBytes
}

// Handle dispatches subpath per 4.D.5's grammar: "<pkg>", "<pkg>/<version>",
// "@scope/<pkg>", and "<pkg>/-/<tarball>".
func (a *Adapter) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	subpath = strings.Trim(subpath, "/")
	pkg, rest, hasTarball := splitPackagePath(subpath)

	if hasTarball {
		return a.serveTarball(ctx, w, r, pkg, rest)
	}

	version := "latest"
	if rest != "" {
		version = rest
	}
	return a.serveMetadata(ctx, w, r, pkg, version)
}

// splitPackagePath separates a registry path into its package name and
// remainder, recognizing the scoped "@scope/name" form and the
// "<pkg>/-/<tarball>" tarball convention.
func splitPackagePath(subpath string) (pkg, rest string, isTarball bool) {
	segments := strings.Split(subpath, "/")
	if len(segments) == 0 {
		return "", "", false
	}

	nameParts := []string{segments[0]}
	remainder := segments[1:]
	if strings.HasPrefix(segments[0], "@") && len(segments) > 1 {
		nameParts = append(nameParts, segments[1])
		remainder = segments[2:]
	}
	pkg = strings.Join(nameParts, "/")

	if len(remainder) >= 2 && remainder[0] == "-" {
		return pkg, strings.Join(remainder[1:], "/"), true
	}
	if len(remainder) > 0 {
		return pkg, remainder[0], false
	}
	return pkg, "", false
}

func (a *Adapter) serveMetadata(ctx context.Context, w http.ResponseWriter, r *http.Request, pkg, version string) error {
	key := "package:" + pkg + ":" + version
	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	upstreamPath := url.PathEscape(pkg)
	if strings.Contains(pkg, "/") {
		upstreamPath = escapeScopedName(pkg)
	}
	upstreamURL := a.UpstreamBase + "/" + upstreamPath
	if version != "latest" {
		upstreamURL += "/" + version
	}

	timer := metrics.NewTimer()
	res, err := a.Fetcher.Fetch(ctx, http.MethodGet, upstreamURL, fetcher.Options{Accept: "application/json"})
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	_ = a.Store.Put(key, bytes.NewReader(res.Body), contentType, metadataTTL)
	w.Header().Set("Content-Type", contentType)
	_, werr := w.Write(res.Body)
	return werr
}

func (a *Adapter) serveTarball(ctx context.Context, w http.ResponseWriter, r *http.Request, pkg, filename string) error {
	key := "tarball:" + pkg + ":" + filename
	if entry, err := a.Store.Lookup(key); err == nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, entry.Size, true, "")
		return adapter.ServeCached(w, r, entry)
	}

	upstreamPath := escapeScopedName(pkg)
	upstreamURL := a.UpstreamBase + "/" + upstreamPath + "/-/" + filename

	timer := metrics.NewTimer()
	res, err := a.Fetcher.Fetch(ctx, http.MethodGet, upstreamURL, fetcher.Options{})
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, 0, false, err.Error())
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	contentType := adapter.GuessContentType(filename)
	if err := a.Store.Put(key, bytes.NewReader(res.Body), contentType, tarballTTL); err != nil {
		return err
	}
	adapter.RecordDownload(a.Metadata, a.Name(), key, int64(len(res.Body)), true, "")

	entry, err := a.Store.Lookup(key)
	if err != nil {
		return err
	}
	return adapter.ServeCached(w, r, entry)
}

// escapeScopedName path-escapes each segment of a scoped package name and
// leaves the "/" between scope and name unescaped (npm's registry URL
// convention: "@scope%2Fname" is also accepted, but unescaped "@scope/name"
// is what most registries actually expect on the wire).
func escapeScopedName(pkg string) string {
	parts := strings.SplitN(pkg, "/", 2)
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
