// Package goproxy implements the Go module proxy protocol adapter (spec
// 4.D.6): @v/list, .info/.mod/.zip/.sum, @latest, @all, and @list (the
// last derived by parsing the module's go.mod require blocks).
package goproxy

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/metrics"
)

const (
	listTTL = 5 * time.Minute
	infoTTL = 5 * time.Minute
	modTTL  = 365 * 24 * time.Hour // immutable once published
	zipTTL  = 365 * 24 * time.Hour
)

// Adapter serves the Go module proxy protocol against a single upstream
// (e.g. https://proxy.golang.org).
type Adapter struct {
	adapter.Deps
	UpstreamBase string
}

func New(deps adapter.Deps, upstreamBase string) *Adapter {
	return &Adapter{Deps: deps, UpstreamBase: strings.TrimSuffix(upstreamBase, "/")}
}

func (a *Adapter) Name() string { return "goproxy" }

func (a *Adapter) CacheStats() (int64, int64) {
	st, err := a.Store.Stats()
	if err != nil {
		return 0, 0
	}
	return st.FileCount, st.TotalBytes
}

// Handle dispatches subpath of the form "<module>/@v/<rest>",
// "<module>/@latest", "<module>/@all", or "<module>/@list".
func (a *Adapter) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	subpath = strings.Trim(subpath, "/")

	module, op, ok := splitModuleOp(subpath)
	if !ok {
		http.NotFound(w, r)
		return nil
	}

	switch {
	case op == "@v/list":
		return a.serveVersionList(ctx, w, r, module)
	case op == "@latest":
		return a.serveLatest(ctx, w, r, module)
	case op == "@all":
		return a.serveAll(ctx, w, r, module)
	case op == "@list":
		return a.serveDependencyList(ctx, w, r, module)
	case strings.HasPrefix(op, "@v/"):
		return a.serveVersionFile(ctx, w, r, module, strings.TrimPrefix(op, "@v/"))
	default:
		http.NotFound(w, r)
		return nil
	}
}

// splitModuleOp separates "<module-path>/@v/list" etc. into the module
// path and the "@..." operation, since module paths themselves contain
// slashes.
func splitModuleOp(subpath string) (module, op string, ok bool) {
	idx := strings.Index(subpath, "/@")
	if idx < 0 {
		return "", "", false
	}
	return subpath[:idx], subpath[idx+1:], true
}

func (a *Adapter) serveVersionList(ctx context.Context, w http.ResponseWriter, r *http.Request, module string) error {
	key := "list:" + module
	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	body, err := a.fetchUpstream(ctx, module+"/@v/list")
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	_ = a.Store.Put(key, bytes.NewReader(body), "text/plain; charset=utf-8", listTTL)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, werr := w.Write(body)
	return werr
}

func (a *Adapter) serveLatest(ctx context.Context, w http.ResponseWriter, r *http.Request, module string) error {
	key := "latest:" + module
	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	body, err := a.fetchUpstream(ctx, module+"/@latest")
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	_ = a.Store.Put(key, bytes.NewReader(body), "application/json", infoTTL)
	w.Header().Set("Content-Type", "application/json")
	_, werr := w.Write(body)
	return werr
}

// serveAll proxies @all, which upstream Go proxies document as equivalent
// information to @v/list (an unadorned text listing of all versions).
func (a *Adapter) serveAll(ctx context.Context, w http.ResponseWriter, r *http.Request, module string) error {
	return a.serveVersionList(ctx, w, r, module)
}

func (a *Adapter) serveVersionFile(ctx context.Context, w http.ResponseWriter, r *http.Request, module, verFile string) error {
	key := "v:" + module + ":" + verFile
	if entry, err := a.Store.Lookup(key); err == nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, entry.Size, true, "")
		return adapter.ServeCached(w, r, entry)
	}

	body, err := a.fetchUpstream(ctx, module+"/@v/"+verFile)
	if err != nil {
		if strings.HasSuffix(verFile, ".sum") && adapter.UpstreamStatus(err) == http.StatusNotFound {
			// A missing .sum is itself a valid, cacheable-as-absent answer
			// (4.D.6): 404 from upstream becomes an empty 200 downstream.
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			return nil
		}
		adapter.RecordDownload(a.Metadata, a.Name(), key, 0, false, err.Error())
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	contentType, ttl := versionFileMeta(verFile)
	if err := a.Store.Put(key, bytes.NewReader(body), contentType, ttl); err != nil {
		return err
	}
	adapter.RecordDownload(a.Metadata, a.Name(), key, int64(len(body)), true, "")

	entry, err := a.Store.Lookup(key)
	if err != nil {
		return err
	}
	return adapter.ServeCached(w, r, entry)
}

func versionFileMeta(verFile string) (contentType string, ttl time.Duration) {
	switch {
	case strings.HasSuffix(verFile, ".info"):
		return "application/json", infoTTL
	case strings.HasSuffix(verFile, ".mod"):
		return "text/plain; charset=utf-8", modTTL
	case strings.HasSuffix(verFile, ".zip"):
		return "application/zip", zipTTL
	case strings.HasSuffix(verFile, ".sum"):
		return "text/plain; charset=utf-8", modTTL
	default:
		return "application/octet-stream", modTTL
	}
}

// serveDependencyList derives @list (the module's direct dependencies) by
// fetching its go.mod and parsing the require block(s), per 4.D.6 and the
// go.py original's dependency-derivation rule.
func (a *Adapter) serveDependencyList(ctx context.Context, w http.ResponseWriter, r *http.Request, module string) error {
	latestBody, err := a.fetchUpstream(ctx, module+"/@latest")
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}
	version := extractLatestVersion(latestBody)
	if version == "" {
		http.Error(w, "goproxy: could not determine latest version", http.StatusBadGateway)
		return nil
	}

	modBody, err := a.fetchUpstream(ctx, module+"/@v/"+version+".mod")
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	deps := parseRequireBlock(modBody)
	out := strings.Join(deps, "\n")
	if out != "" {
		out += "\n"
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, werr := w.Write([]byte(out))
	return werr
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

// extractLatestVersion pulls the "Version" field out of an @latest JSON
// body without a full JSON decode, since only that one field is needed.
func extractLatestVersion(body []byte) string {
	const marker = `"Version":"`
	idx := strings.Index(string(body), marker)
	if idx < 0 {
		return ""
	}
	rest := string(body)[idx+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// parseRequireBlock extracts "module version" pairs from both the grouped
// "require (\n ... \n)" and inline "require module version" forms.
func parseRequireBlock(modFile []byte) []string {
	var deps []string
	lines := strings.Split(string(modFile), "\n")
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}

		if strings.HasPrefix(trimmed, "require (") {
			inBlock = true
			continue
		}
		if inBlock {
			if trimmed == ")" {
				inBlock = false
				continue
			}
			if dep := requireLineModule(trimmed); dep != "" {
				deps = append(deps, dep)
			}
			continue
		}

		if strings.HasPrefix(trimmed, "require ") {
			if dep := requireLineModule(strings.TrimPrefix(trimmed, "require ")); dep != "" {
				deps = append(deps, dep)
			}
		}
	}
	return deps
}

func requireLineModule(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimSuffix(line, "// indirect")
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	return fields[0] + " " + fields[1]
}
