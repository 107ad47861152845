package webserver

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/agusx1211/grotto/internal/debug"
)

var mimeTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json",
	".png":  "image/png",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
}

func mimeFromExt(name string) string {
	if m, ok := mimeTypes[strings.ToLower(path.Ext(name))]; ok {
		return m
	}
	return "application/octet-stream"
}

// handleFallback serves the UI: / is the session list, anything with an
// extension is an asset and /<id> of a registered session is its page.
func (srv *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		srv.serveAsset(w, "index.html")
		return
	}

	segment := strings.TrimPrefix(r.URL.Path, "/")
	if strings.Contains(segment, ".") {
		srv.serveAsset(w, segment)
		return
	}

	if _, ok := srv.daemon.Sync().Get(segment); ok {
		srv.serveAsset(w, "session.html")
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

// serveAsset prefers WebDir on disk and falls back to the embedded copy.
func (srv *Server) serveAsset(w http.ResponseWriter, name string) {
	clean := path.Clean("/" + name)[1:]
	if clean == "" || !fs.ValidPath(clean) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if srv.webDir != "" {
		data, err := os.ReadFile(filepath.Join(srv.webDir, filepath.FromSlash(clean)))
		if err == nil {
			writeAsset(w, clean, data)
			return
		}
		if !os.IsNotExist(err) {
			debug.LogKV("webserver", "web dir read failed", "file", clean, "error", err)
		}
	}

	data, err := staticFS.ReadFile("static/" + clean)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeAsset(w, clean, data)
}

func writeAsset(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", mimeFromExt(name))
	_, _ = w.Write(data)
}
