// Package pypi implements the Python Package Index protocol adapter
// (spec 4.D.1): Simple API HTML/JSON index pages, package metadata, and
// artifact downloads, with upstream links rewritten onto the local
// /packages/ tree.
package pypi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/metrics"
)

const simpleAccept = "application/vnd.pypi.simple.v1+html, text/html;q=0.9"

const (
	indexTTL    = time.Hour
	artifactTTL = 365 * 24 * time.Hour
)

// Adapter serves the PyPI Simple API and package downloads against a
// single upstream index (e.g. https://pypi.org/simple).
type Adapter struct {
	adapter.Deps
	UpstreamBase string // e.g. "https://pypi.org/simple"
}

func New(deps adapter.Deps, upstreamBase string) *Adapter {
	return &Adapter{Deps: deps, UpstreamBase: strings.TrimSuffix(upstreamBase, "/")}
}

func (a *Adapter) Name() string { return "pypi" }

func (a *Adapter) CacheStats() (int64, int64) {
	st, err := a.Store.Stats()
	if err != nil {
		return 0, 0
	}
	return st.FileCount, st.TotalBytes
}

// Handle dispatches subpath (already stripped of any /pypi prefix) to the
// root index, a package's simple index, or an artifact download.
func (a *Adapter) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	subpath = strings.Trim(subpath, "/")
	parts := strings.Split(subpath, "/")
	if len(parts) > 0 {
		for len(parts) > 0 && parts[0] == "" {
			parts = parts[1:]
		}
	}

	switch {
	case len(parts) == 0:
		return a.serveRootIndex(ctx, w, r)
	case parts[0] == "simple" && len(parts) == 1:
		return a.serveRootIndex(ctx, w, r)
	case parts[0] == "simple" && len(parts) == 2:
		return a.servePackageIndex(ctx, w, r, parts[1])
	case parts[0] == "packages" && len(parts) >= 2:
		return a.serveArtifact(ctx, w, r, strings.Join(parts[1:], "/"))
	case (parts[0] == "web" || parts[0] == "pypi") && len(parts) >= 2:
		return a.serveMetadata(ctx, w, r, parts[1])
	default:
		http.NotFound(w, r)
		return nil
	}
}

func (a *Adapter) serveRootIndex(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	key := "simple/__root__"
	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	timer := metrics.NewTimer()
	res, err := a.Fetcher.Fetch(ctx, http.MethodGet, a.UpstreamBase+"/", fetcher.Options{Accept: simpleAccept})
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	body := rewriteIndexLinks(res.Body)
	_ = a.Store.Put(key, bytes.NewReader(body), "text/html; charset=utf-8", indexTTL)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, werr := w.Write(body)
	return werr
}

func (a *Adapter) servePackageIndex(ctx context.Context, w http.ResponseWriter, r *http.Request, pkg string) error {
	pkg = strings.ToLower(pkg)
	wantsJSON := strings.Contains(r.Header.Get("Accept"), "application/vnd.pypi.simple.v1+json")
	key := "simple/" + pkg

	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	timer := metrics.NewTimer()
	res, err := a.Fetcher.Fetch(ctx, http.MethodGet, a.UpstreamBase+"/"+pkg+"/", fetcher.Options{Accept: simpleAccept})
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	var out []byte
	var contentType string
	if wantsJSON {
		out, err = json.Marshal(simpleHTMLToJSON(pkg, res.Body))
		if err != nil {
			return err
		}
		contentType = "application/vnd.pypi.simple.v1+json; charset=utf-8"
	} else {
		out = rewritePackageLinks(pkg, res.Body)
		contentType = "text/html; charset=utf-8"
	}

	_ = a.Store.Put(key, bytes.NewReader(out), contentType, indexTTL)
	w.Header().Set("Content-Type", contentType)
	_, werr := w.Write(out)
	return werr
}

func (a *Adapter) serveArtifact(ctx context.Context, w http.ResponseWriter, r *http.Request, hashPathAndFile string) error {
	hashPathAndFile = strings.SplitN(hashPathAndFile, "#", 2)[0]
	key := "packages/" + hashPathAndFile

	if entry, err := a.Store.Lookup(key); err == nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, entry.Size, true, "")
		return adapter.ServeCached(w, r, entry)
	}

	timer := metrics.NewTimer()
	upstreamURL := strings.TrimSuffix(a.UpstreamBase, "/simple") + "/packages/" + hashPathAndFile
	res, err := a.Fetcher.Fetch(ctx, http.MethodGet, upstreamURL, fetcher.Options{})
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, 0, false, err.Error())
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	contentType := adapter.GuessContentType(hashPathAndFile)
	if err := a.Store.Put(key, bytes.NewReader(res.Body), contentType, artifactTTL); err != nil {
		return err
	}
	adapter.RecordDownload(a.Metadata, a.Name(), key, int64(len(res.Body)), true, "")

	entry, err := a.Store.Lookup(key)
	if err != nil {
		return err
	}
	return adapter.ServeCached(w, r, entry)
}

func (a *Adapter) serveMetadata(ctx context.Context, w http.ResponseWriter, r *http.Request, pkg string) error {
	pkg = strings.ToLower(pkg)
	key := "web/" + pkg

	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	timer := metrics.NewTimer()
	base := strings.TrimSuffix(a.UpstreamBase, "/simple")
	res, err := a.Fetcher.Fetch(ctx, http.MethodGet, fmt.Sprintf("%s/pypi/%s/json", base, pkg), fetcher.Options{Accept: "application/json"})
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	var doc map[string]any
	if err := json.Unmarshal(res.Body, &doc); err != nil {
		w.Header().Set("Content-Type", "application/json")
		_, werr := w.Write(res.Body)
		return werr
	}
	rewriteMetadataURLs(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	_ = a.Store.Put(key, bytes.NewReader(out), "application/vnd.pypi.simple.v1+json; charset=utf-8", indexTTL)
	w.Header().Set("Content-Type", "application/vnd.pypi.simple.v1+json; charset=utf-8")
	_, werr := w.Write(out)
	return werr
}

var linkPattern = regexp.MustCompile(`<a[^>]+href="([^"]+)"[^>]*>([^<]*)</a>`)

// rewriteIndexLinks converts every absolute upstream link in the root
// index into a relative /simple/<pkg>/ link.
func rewriteIndexLinks(html []byte) []byte {
	return linkPattern.ReplaceAllFunc(html, func(m []byte) []byte {
		sub := linkPattern.FindSubmatch(m)
		href := string(sub[1])
		text := sub[2]
		if strings.HasPrefix(href, "/simple/") {
			return m
		}
		if strings.HasPrefix(href, "http") {
			name := strings.TrimSuffix(href, "/")
			if i := strings.LastIndex(name, "/"); i >= 0 {
				name = name[i+1:]
			}
			return []byte(fmt.Sprintf(`<a href="/simple/%s/">%s</a>`, name, text))
		}
		return m
	})
}

var relPackageLink = regexp.MustCompile(`href="(\.\./\.\./packages/[^"]+)"`)
var absPackageLink = regexp.MustCompile(`https://(?:files\.pythonhosted\.org|files\.pypi\.org)/packages/([^"'\s]+)`)

// rewritePackageLinks rewrites a per-package Simple API HTML index so its
// artifact links point at the local /packages/<hash-path>/<filename> tree.
// Absolute files.pythonhosted.org and files.pypi.org links only have their
// host prefix replaced and keep any fragment, #sha256= included. Relative
// ../../packages/ links lose their fragment and get a synthesized
// #egg=<pkg>-<version>. Links to other hosts are left unchanged.
func rewritePackageLinks(pkg string, html []byte) []byte {
	out := absPackageLink.ReplaceAll(html, []byte(`/packages/$1`))
	out = relPackageLink.ReplaceAllFunc(out, func(m []byte) []byte {
		href := string(relPackageLink.FindSubmatch(m)[1])
		clean := strings.SplitN(href, "#", 2)[0]
		idx := strings.Index(clean, "packages/")
		if idx < 0 {
			return m
		}
		hashPathAndFile := clean[idx+len("packages/"):]
		filename := hashPathAndFile
		if i := strings.LastIndex(filename, "/"); i >= 0 {
			filename = filename[i+1:]
		}
		version := versionFromFilename(pkg, filename)
		return []byte(fmt.Sprintf(`href="/packages/%s#egg=%s-%s"`, hashPathAndFile, pkg, version))
	})
	return out
}

// versionFromFilename extracts the version segment from a package artifact
// filename. Wheel filenames carry three (or four, with a build tag) extra
// dash-separated tag segments after the version
// ({dist}-{version}(-{build})?-{pytag}-{abitag}-{platform}.whl) that must be
// stripped rather than folded into the version, or the #egg= fragment ends
// up with the python/abi/platform tags glued onto it.
func versionFromFilename(pkg, filename string) string {
	isWheel := strings.HasSuffix(filename, ".whl")

	base := filename
	for _, ext := range []string{".tar.gz", ".whl", ".tar.bz2", ".tar.xz", ".zip"} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}

	rest := base
	prefix := pkg + "-"
	if strings.HasPrefix(strings.ToLower(base), strings.ToLower(prefix)) {
		rest = base[len(prefix):]
	}

	if isWheel {
		parts := strings.Split(rest, "-")
		if len(parts) >= 4 {
			return strings.Join(parts[:len(parts)-3], "-")
		}
	}
	return rest
}

type simpleFile struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type simpleIndexJSON struct {
	Meta struct {
		APIVersion string `json:"api-version"`
	} `json:"meta"`
	Name  string       `json:"name"`
	Files []simpleFile `json:"files"`
}

// simpleHTMLToJSON parses a Simple API HTML index into the JSON form (4.D.1:
// content negotiation on Accept: application/vnd.pypi.simple.v1+json).
func simpleHTMLToJSON(pkg string, html []byte) simpleIndexJSON {
	out := simpleIndexJSON{Name: pkg}
	out.Meta.APIVersion = "1.0"

	for _, m := range linkPattern.FindAllSubmatch(html, -1) {
		href := string(m[1])
		text := strings.TrimSpace(string(m[2]))
		clean := strings.SplitN(href, "#", 2)[0]

		filename := text
		if filename == "" {
			if i := strings.LastIndex(clean, "/"); i >= 0 {
				filename = clean[i+1:]
			} else {
				filename = clean
			}
		}

		url := clean
		if idx := strings.Index(clean, "packages/"); idx >= 0 {
			url = "/packages/" + clean[idx+len("packages/"):]
		}

		out.Files = append(out.Files, simpleFile{Filename: filename, URL: url})
	}
	return out
}

// rewriteMetadataURLs rewrites the "urls" array of a /pypi/<pkg>/json
// document in place so every artifact URL points at the local tree.
func rewriteMetadataURLs(doc map[string]any) {
	urls, ok := doc["urls"].([]any)
	if !ok {
		return
	}
	for _, item := range urls {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		u, ok := m["url"].(string)
		if !ok {
			continue
		}
		if idx := strings.Index(u, "/packages/"); idx >= 0 {
			m["url"] = "/packages/" + u[idx+len("/packages/"):]
		}
	}
}
