package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

type AboutResponse struct {
	Service   string `json:"service"`
	Session   string `json:"session,omitempty"`
	NowUTC    string `json:"now_utc"`
	GoVersion string `json:"go_version"`
	Build     Build  `json:"build"`
}

// Build is the VCS stamp of the running binary, empty for `go run` builds.
type Build struct {
	Module   string `json:"module,omitempty"`
	Version  string `json:"version,omitempty"`
	Revision string `json:"revision,omitempty"`
	Modified bool   `json:"modified,omitempty"`
	Time     string `json:"time,omitempty"`
}

func readBuild() Build {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return Build{}
	}
	b := Build{Module: bi.Main.Path, Version: bi.Main.Version}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
		case "vcs.modified":
			b.Modified = s.Value == "true"
		case "vcs.time":
			b.Time = s.Value
		}
	}
	return b
}

// AboutHandler identifies the simulator instance so recorded data can be
// matched to the run that produced it.
func AboutHandler(session string) http.Handler {
	build := readBuild()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, AboutResponse{
			Service:   serviceName,
			Session:   session,
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			GoVersion: runtime.Version(),
			Build:     build,
		})
	})
}
