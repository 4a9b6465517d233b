package buildinfo

import "runtime"

// Ces variables sont injectées à la compilation via -ldflags.
// Exemple :
//
//	-X github.com/Guilhem-Bonnet/streamrec/internal/buildinfo.Version=v0.1.0
//	-X github.com/Guilhem-Bonnet/streamrec/internal/buildinfo.Commit=abcdef
//	-X github.com/Guilhem-Bonnet/streamrec/internal/buildinfo.Date=2026-10-18
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"goVersion"`
}

func Current() Info {
	return Info{Version: Version, Commit: Commit, Date: Date, GoVersion: runtime.Version()}
}

func (i Info) String() string {
	s := "streamrec " + i.Version
	if i.Commit != "" {
		s += " (" + i.Commit + ")"
	}
	if i.Date != "" {
		s += " built " + i.Date
	}
	return s + " " + i.GoVersion
}
