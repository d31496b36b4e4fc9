package api

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
)

// handleStatic serves files from the static directory and falls back to
// index.html so client-side routes resolve.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.opts.StaticDir == "" {
		NotFoundError(w, r, "Not found")
		return
	}
	root := http.Dir(s.opts.StaticDir)

	name := path.Clean("/" + r.URL.Path)
	if f, err := root.Open(name); err == nil {
		info, statErr := f.Stat()
		_ = f.Close()
		if statErr == nil && !info.IsDir() {
			http.ServeFile(w, r, path.Join(s.opts.StaticDir, name))
			return
		}
	}

	index, err := root.Open("/index.html")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			NotFoundError(w, r, "Not found")
			return
		}
		InternalError(w, r, "Failed to open index.html")
		return
	}
	defer index.Close()

	info, err := index.Stat()
	if err != nil {
		InternalError(w, r, "Failed to stat index.html")
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "index.html", info.ModTime(), index)
}
