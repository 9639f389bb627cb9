// Package oci implements the container registry (Docker/OCI distribution)
// protocol adapter (spec 4.D.2): tag listing, manifest and blob retrieval
// with canonical digest headers, and short-lived token minting.
package oci

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/metrics"
)

const (
	manifestAccept = "application/vnd.docker.distribution.manifest.v2+json, application/vnd.oci.image.manifest.v1+json, application/vnd.docker.distribution.manifest.list.v2+json"
	manifestTTL    = 28 * 24 * time.Hour
	blobTTL        = 365 * 24 * time.Hour
	tagsTTL        = 5 * time.Minute
	tokenTTL       = 5 * time.Minute
)

// Adapter serves the OCI/Docker distribution API against a single upstream
// registry (e.g. registry-1.docker.io).
type Adapter struct {
	adapter.Deps
	UpstreamBase string // e.g. "https://registry-1.docker.io"
	TokenSecret  string
	UpstreamUser string
	UpstreamPass string
}

func New(deps adapter.Deps, upstreamBase, tokenSecret string) *Adapter {
	return &Adapter{Deps: deps, UpstreamBase: strings.TrimSuffix(upstreamBase, "/"), TokenSecret: tokenSecret}
}

func (a *Adapter) Name() string { return "oci" }

func (a *Adapter) CacheStats() (int64, int64) {
	st, err := a.Store.Stats()
	if err != nil {
		return 0, 0
	}
	return st.FileCount, st.TotalBytes
}

// Handle dispatches subpath (the URL path under /v2/ with the leading
// segment already matched by the router) onto tag listing, manifest,
// blob, or token minting.
func (a *Adapter) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	subpath = strings.Trim(subpath, "/")
	if subpath == "token" {
		return a.mintToken(w, r)
	}

	parts := strings.Split(subpath, "/")
	kindIdx := -1
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == "manifests" || parts[i] == "blobs" || parts[i] == "tags" {
			kindIdx = i
			break
		}
	}
	if kindIdx < 1 || kindIdx+1 >= len(parts) {
		http.Error(w, "malformed registry path", http.StatusBadRequest)
		return nil
	}

	image := strings.Join(parts[:kindIdx], "/")
	kind := parts[kindIdx]
	rest := strings.Join(parts[kindIdx+1:], "/")

	switch kind {
	case "tags":
		return a.serveTagsList(ctx, w, r, image)
	case "manifests":
		return a.serveManifest(ctx, w, r, image, rest)
	case "blobs":
		return a.serveBlob(ctx, w, r, image, rest)
	default:
		http.NotFound(w, r)
		return nil
	}
}

func (a *Adapter) serveTagsList(ctx context.Context, w http.ResponseWriter, r *http.Request, image string) error {
	key := "tags:" + image
	if entry, err := a.Store.Lookup(key); err == nil {
		return adapter.ServeCached(w, r, entry)
	}

	timer := metrics.NewTimer()
	res, err := a.fetchUpstream(ctx, fmt.Sprintf("%s/v2/%s/tags/list", a.UpstreamBase, image), "application/json")
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	_ = a.Store.Put(key, bytes.NewReader(res.Body), "application/json", tagsTTL)
	w.Header().Set("Content-Type", "application/json")
	_, werr := w.Write(res.Body)
	return werr
}

func (a *Adapter) serveManifest(ctx context.Context, w http.ResponseWriter, r *http.Request, image, ref string) error {
	key := fmt.Sprintf("manifest:%s:%s", image, ref)
	if entry, err := a.Store.Lookup(key); err == nil {
		defer entry.Body.Close()
		body, err := io.ReadAll(entry.Body)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", entry.ContentType)
		w.Header().Set("Docker-Content-Digest", digestFor(body))
		_, werr := w.Write(body)
		return werr
	}

	timer := metrics.NewTimer()
	res, err := a.fetchUpstream(ctx, fmt.Sprintf("%s/v2/%s/manifests/%s", a.UpstreamBase, image, ref), manifestAccept)
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, 0, false, err.Error())
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	digest := digestFor(res.Body)
	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/vnd.docker.distribution.manifest.v2+json"
	}
	_ = a.Store.Put(key, bytes.NewReader(res.Body), contentType, manifestTTL)
	adapter.RecordDownload(a.Metadata, a.Name(), key, int64(len(res.Body)), true, "")

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Docker-Content-Digest", digest)
	_, werr := w.Write(res.Body)
	return werr
}

func (a *Adapter) serveBlob(ctx context.Context, w http.ResponseWriter, r *http.Request, image, digest string) error {
	key := "blob:" + strings.Replace(digest, ":", "-", 1)
	if entry, err := a.Store.Lookup(key); err == nil {
		w.Header().Set("Docker-Content-Digest", digest)
		adapter.RecordDownload(a.Metadata, a.Name(), key, entry.Size, true, "")
		return adapter.ServeCached(w, r, entry)
	}

	timer := metrics.NewTimer()
	res, err := a.fetchUpstream(ctx, fmt.Sprintf("%s/v2/%s/blobs/%s", a.UpstreamBase, image, digest), "")
	adapter.ObserveFetch(a.Name(), timer, err)
	if err != nil {
		adapter.RecordDownload(a.Metadata, a.Name(), key, 0, false, err.Error())
		http.Error(w, err.Error(), adapter.UpstreamStatus(err))
		return nil
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.Store.Put(key, bytes.NewReader(res.Body), contentType, blobTTL); err != nil {
		return err
	}
	adapter.RecordDownload(a.Metadata, a.Name(), key, int64(len(res.Body)), true, "")

	entry, err := a.Store.Lookup(key)
	if err != nil {
		return err
	}
	w.Header().Set("Docker-Content-Digest", digest)
	return adapter.ServeCached(w, r, entry)
}

// mintToken issues a short-lived opaque bearer token per 4.D.2: the docker
// CLI requests one before pulling from a registry that advertises
// Www-Authenticate, even though this mirror never validates it against
// anything beyond its own issuance.
func (a *Adapter) mintToken(w http.ResponseWriter, r *http.Request) error {
	id := uuid.NewString()
	issuedAt := time.Now().UTC()
	sig := signToken(a.TokenSecret, id, issuedAt)
	token := fmt.Sprintf("%s-%s", id, sig)

	resp := map[string]any{
		"token":        token,
		"access_token": token,
		"expires_in":   int(tokenTTL.Seconds()),
		"issued_at":    issuedAt.Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(resp)
}

func signToken(secret, id string, issuedAt time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id + ":" + issuedAt.Format(time.RFC3339)))
	sum := hex.EncodeToString(mac.Sum(nil))
	if len(sum) > 32 {
		return sum[:32]
	}
	return sum
}

func (a *Adapter) fetchUpstream(ctx context.Context, url, accept string) (fetcher.Result, error) {
	opts := fetcher.Options{Accept: accept}
	if a.UpstreamUser != "" {
		opts.BasicAuthUser = a.UpstreamUser
		opts.BasicAuthPass = a.UpstreamPass
	}
	return a.Fetcher.Fetch(ctx, http.MethodGet, url, opts)
}

func digestFor(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}
