// Package yum implements the RHEL/CentOS/Rocky YUM-repo protocol adapter
// (spec 4.D.4): repomd.xml is parsed to resolve the checksum-prefixed
// filename of each referenced database before that database is fetched and
// cached under its own checksum-stable path.
package yum

import (
	"bytes"
	"context"
	"encoding/xml"
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
	repomdTTL  = 15 * time.Minute
	databaseTTL = 365 * 24 * time.Hour // checksum-stable: content-addressed by filename
)

// repomd mirrors just enough of the YUM repodata/repomd.xml schema to
// resolve a database type ("primary", "filelists", "other", ...) to its
// actual checksum-prefixed href.
type repomd struct {
	XMLName xml.Name      `xml:"repomd"`
	Data    []repomdEntry `xml:"data"`
}

type repomdEntry struct {
	Type     string `xml:"type,attr"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
}

// Adapter serves a YUM-style repo against a single upstream base.
type Adapter struct {
	adapter.Deps
	UpstreamBase string // e.g. "https://dl.rockylinux.org/pub/rocky"
}

func New(deps adapter.Deps, upstreamBase string) *Adapter {
	return &Adapter{Deps: deps, UpstreamBase: strings.TrimSuffix(upstreamBase, "/")}
}

func (a *Adapter) Name() string { return "yum" }

func (a *Adapter) CacheStats() (int64, int64) {
	st, err := a.Store.Stats()
	if err != nil {
		return 0, 0
	}
	return st.FileCount, st.TotalBytes
}

// Handle dispatches subpath (ending in ".../repodata/repomd.xml" or a
// database file referenced from it) onto the repomd or database path.
func (a *Adapter) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	subpath = strings.Trim(subpath, "/")

	if strings.HasSuffix(subpath, "repodata/repomd.xml") {
		return a.serveRepomd(ctx, w, r, subpath)
	}

	if idx := strings.Index(subpath, "repodata/"); idx >= 0 {
		return a.serveDatabase(ctx, w, r, subpath)
	}

	return a.servePackage(ctx, w, r, subpath)
}

func (a *Adapter) serveRepomd(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	key := "repomd:" + subpath
	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	body, err := a.fetchUpstream(ctx, subpath)
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	_ = a.Store.Put(key, bytes.NewReader(body), "application/xml", repomdTTL)
	w.Header().Set("Content-Type", "application/xml")
	_, werr := w.Write(body)
	return werr
}

// serveDatabase resolves the actual checksum-prefixed href for the
// requested database type by parsing repomd.xml, then fetches and caches
// the resolved file (4.D.4). subpath is expected to be the repodata-root
// directory joined with the literal database type name the client
// requested (e.g. "8/BaseOS/x86_64/os/repodata/primary.xml.gz"); the type
// is derived from the final path segment's basename before its first dot.
func (a *Adapter) serveDatabase(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	idx := strings.Index(subpath, "repodata/")
	root := subpath[:idx]
	requested := subpath[idx+len("repodata/"):]
	dbType := databaseType(requested)

	repomdPath := root + "repodata/repomd.xml"
	repomdBody, err := a.fetchUpstreamCached(ctx, repomdPath, "repomd:"+repomdPath, repomdTTL)
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	var rm repomd
	if err := xml.Unmarshal(repomdBody, &rm); err != nil {
		return fmt.Errorf("yum: parsing repomd.xml: %w", err)
	}

	href := ""
	for _, entry := range rm.Data {
		if entry.Type == dbType {
			href = entry.Location.Href
			break
		}
	}
	if href == "" {
		http.NotFound(w, r)
		return nil
	}
	resolvedPath := root + href
	if !strings.Contains(href, "/") {
		resolvedPath = root + "repodata/" + href
	}

	key := "database:" + resolvedPath
	if entry, err := a.Store.Lookup(key); err == nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, entry.Size, true, "")
		return adapter.ServeCached(w, r, entry)
	}

	body, err := a.fetchUpstream(ctx, resolvedPath)
	if err != nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, 0, false, err.Error())
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	contentType := adapter.GuessContentType(resolvedPath)
	if err := a.Store.Put(key, bytes.NewReader(body), contentType, databaseTTL); err != nil {
		return err
	}
	adapter.RecordDownload(a.Metadata, a.Name(), key, int64(len(body)), true, "")

	entry, err := a.Store.Lookup(key)
	if err != nil {
		return err
	}
	return adapter.ServeCached(w, r, entry)
}

func (a *Adapter) servePackage(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	key := "package:" + subpath
	if entry, err := a.Store.Lookup(key); err == nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, entry.Size, true, "")
		return adapter.ServeCached(w, r, entry)
	}

	body, err := a.fetchUpstream(ctx, subpath)
	if err != nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, 0, false, err.Error())
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	contentType := adapter.GuessContentType(subpath)
	if err := a.Store.Put(key, bytes.NewReader(body), contentType, databaseTTL); err != nil {
		return err
	}
	adapter.RecordDownload(a.Metadata, a.Name(), key, int64(len(body)), true, "")

	entry, err := a.Store.Lookup(key)
	if err != nil {
		return err
	}
	return adapter.ServeCached(w, r, entry)
}

// databaseType strips directory components and known compression/XML
// suffixes from a requested database filename to recover its repomd
// "type" attribute, e.g. "primary.xml.gz" -> "primary".
func databaseType(requested string) string {
	name := requested
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, suffix := range []string{".xml.gz", ".xml.zck", ".xml.bz2", ".xml"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}

func (a *Adapter) fetchUpstream(ctx context.Context, subpath string) ([]byte, error) {
	timer := metrics.NewTimer()
	res, err := a.Fetcher.Fetch(ctx, http.MethodGet, a.UpstreamBase+"/"+subpath, fetcher.Options{})
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

func (a *Adapter) fetchUpstreamCached(ctx context.Context, subpath, key string, ttl time.Duration) ([]byte, error) {
	if entry, err := a.Store.Lookup(key); err == nil {
		defer entry.Body.Close()
		return io.ReadAll(entry.Body)
	}
	body, err := a.fetchUpstream(ctx, subpath)
	if err != nil {
		return nil, err
	}
	_ = a.Store.Put(key, bytes.NewReader(body), "application/xml", ttl)
	return body, nil
}
