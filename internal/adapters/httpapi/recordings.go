package httpapi

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/streamrec/internal/httpjson"
)

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, s.recordings.Recordings())
}

// handleArchive sert les fichiers enregistrés ; les captures MPEG-TS sortent en audio/mp2t.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + chi.URLParam(r, "*"))
	if name == "/" {
		httpjson.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	full := filepath.Join(s.recordingDir, filepath.FromSlash(name))
	if strings.EqualFold(filepath.Ext(full), ".ts") {
		w.Header().Set("Content-Type", "audio/mp2t")
	}
	http.ServeFile(w, r, full)
}
