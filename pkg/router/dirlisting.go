package router

import (
	"fmt"
	"html"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
)

const dirListingTemplate = `<!DOCTYPE html>
<html>
<head><title>Index of %s</title></head>
<body>
<h1>Index of %s</h1>
<ul>
%s</ul>
</body>
</html>
`

// serveDirListing renders an HTML index of dir (directories first, then
// ascending case-insensitive by name) per 4.E.
func serveDirListing(w http.ResponseWriter, urlPath, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		http.Error(w, "cannot list directory", http.StatusInternalServerError)
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		return strings.ToLower(a.Name()) < strings.ToLower(b.Name())
	})

	var sb strings.Builder
	if urlPath != "/" {
		parent := path.Dir(strings.TrimSuffix(urlPath, "/"))
		sb.WriteString(fmt.Sprintf(`<li><a href="%s">..</a></li>`+"\n", html.EscapeString(parent)))
	}
	for _, e := range entries {
		name := e.Name()
		href := path.Join(urlPath, name)
		if e.IsDir() {
			href += "/"
			name += "/"
		}
		sb.WriteString(fmt.Sprintf(`<li><a href="%s">%s</a></li>`+"\n", html.EscapeString(href), html.EscapeString(name)))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err = fmt.Fprintf(w, dirListingTemplate, html.EscapeString(urlPath), html.EscapeString(urlPath), sb.String())
	return err
}
