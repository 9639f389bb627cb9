package adapter

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cachehub/mirror/pkg/store"
)

// serveRange implements a single-range "bytes=a-b" request against an
// already-open store.Entry, emitting 206 with a correct Content-Range, or
// 416 if the range is unsatisfiable.
func serveRange(w http.ResponseWriter, entry store.Entry, rangeHdr string) error {
	start, end, ok := parseByteRange(rangeHdr, entry.Size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", entry.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	if seeker, ok := entry.Body.(io.Seeker); ok {
		if _, err := seeker.Seek(start, io.SeekStart); err != nil {
			return err
		}
	} else if start > 0 {
		if _, err := io.CopyN(io.Discard, entry.Body, start); err != nil {
			return err
		}
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, entry.Size))
	w.Header().Set("Content-Length", itoa(length))
	w.WriteHeader(http.StatusPartialContent)
	_, err := io.CopyN(w, entry.Body, length)
	if err == io.EOF {
		return nil
	}
	return err
}

// parseByteRange parses a "bytes=a-b" header against a resource of size
// total, returning the inclusive [start, end] byte offsets.
func parseByteRange(hdr string, total int64) (start, end int64, ok bool) {
	hdr = strings.TrimPrefix(hdr, "bytes=")
	parts := strings.SplitN(hdr, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		// suffix range: last N bytes
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > total {
			n = total
		}
		return total - n, total - 1, true
	}

	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || s < 0 || s >= total {
		return 0, 0, false
	}
	start = s

	if parts[1] == "" {
		return start, total - 1, true
	}
	e, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || e < start {
		return 0, 0, false
	}
	if e >= total {
		e = total - 1
	}
	return start, e, true
}
