// Package buildinfo reports the version of the running binary. Version,
// Commit and BuiltAt are set with -ldflags -X; when they are not, the VCS
// stamp the Go toolchain embeds is used.
package buildinfo

import (
    "runtime"
    "runtime/debug"
)

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    out := map[string]string{
        "version":   Version,
        "commit":    Commit,
        "builtAt":   BuiltAt,
        "goVersion": runtime.Version(),
    }
    bi, ok := debug.ReadBuildInfo()
    if !ok {
        return out
    }
    if Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
        out["version"] = bi.Main.Version
    }
    for _, s := range bi.Settings {
        switch s.Key {
        case "vcs.revision":
            if out["commit"] == "" { out["commit"] = s.Value }
        case "vcs.time":
            if out["builtAt"] == "" { out["builtAt"] = s.Value }
        case "vcs.modified":
            if s.Value == "true" { out["dirty"] = "true" }
        }
    }
    return out
}
