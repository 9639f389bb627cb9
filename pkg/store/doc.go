// Package store implements component A of the mirror server: a
// content-addressed cache on the local filesystem, with an optional S3
// tier (Remote) behind the same lookup/put shape for deployments that want
// the payload bytes off the serving host.
//
// Every key maps to a payload file and a ".meta" sidecar. Lookup treats a
// missing, corrupt, or expired sidecar as a miss without touching the
// payload; Put always writes the payload first (temp file, fsync, rename)
// and the sidecar second, so a sidecar never names a payload that isn't
// there yet. The Sweeper is the only thing that deletes expired entries or
// reclaims a crash's orphaned ".tmp.*" file — Lookup itself never mutates
// the store on a miss.
package store
