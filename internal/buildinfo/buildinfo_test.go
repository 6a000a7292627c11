package buildinfo

import "testing"

func TestInfoPrefersLinkerValues(t *testing.T) {
    old := Commit
    t.Cleanup(func() { Commit = old })
    Commit = "abc123"
    info := Info()
    if info["commit"] != "abc123" || info["goVersion"] == "" || info["version"] == "" {
        t.Fatalf("info: %v", info)
    }
}
