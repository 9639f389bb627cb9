package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cachehub/mirror/pkg/apierr"
	"github.com/cachehub/mirror/pkg/types"
)

// handleListFiles lists the metadata-store's file index, optionally under
// a ?prefix= directory, for the admin file browser (4.I files group).
func (a *API) handleListFiles(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	files, err := a.Metadata.ListFiles(prefix)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "listing files", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// handleGetFile streams a cached file's bytes by its metadata-store path,
// mirroring the ecosystem adapters' Store.Lookup-then-serve shape.
func (a *API) handleGetFile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.PathValue("path"), "/")
	if path == "" {
		apierr.WriteJSON(w, apierr.New(apierr.BadRequest, "path is required"))
		return
	}

	rec, err := a.Metadata.GetFile(path)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "file not found"))
		return
	}

	entry, err := a.Store.Lookup(path)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "file content not cached"))
		return
	}
	defer entry.Body.Close()

	_ = a.Metadata.TouchFileAccess(path, time.Now())
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.Name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, entry.Body)
}

// handleDeleteFile soft-deletes a metadata record and evicts its cached
// payload.
func (a *API) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.PathValue("path"), "/")
	if err := a.Metadata.SoftDeleteFile(path); err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "file not found"))
		return
	}
	_ = a.Store.Evict(path)
	w.WriteHeader(http.StatusNoContent)
}

// handleUpload accepts a multipart upload, writes it through the content
// store, and records a FileRecord, supporting the upload-recovery
// end-to-end scenario (spec.md 8).
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(a.Config.Get().Server.MaxUploadSize); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.PayloadTooLarge, "parsing upload", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.BadRequest, "missing file field", err))
		return
	}
	defer file.Close()

	destPath := r.FormValue("path")
	if destPath == "" {
		destPath = header.Filename
	}

	ttl := a.Config.Get().Cache.ArtifactTTL
	if err := a.Store.Put(destPath, file, header.Header.Get("Content-Type"), ttl); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.InsufficientStorage, "writing upload", err))
		return
	}

	now := time.Now()
	rec := &types.FileRecord{
		FileID:     newFileID(destPath),
		Path:       destPath,
		Name:       header.Filename,
		Size:       header.Size,
		MimeType:   header.Header.Get("Content-Type"),
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: types.SyncStatusSynced,
	}
	if existing, err := a.Metadata.GetFile(destPath); err == nil {
		rec.FileID = existing.FileID
		rec.CreatedAt = existing.CreatedAt
		_ = a.Metadata.UpdateFile(rec)
	} else {
		_ = a.Metadata.CreateFile(rec)
	}

	writeJSON(w, http.StatusCreated, rec)
}
