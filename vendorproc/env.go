package vendorproc

import (
	"os"
	"strings"
)

// frameworkPrefixes are environment namespaces owned by the GUI framework
// family the orchestrator host itself may run under. Leaking them into the
// vendor child makes it load the host's plugin directories and fail to
// initialise, so every variable under these prefixes is stripped.
var frameworkPrefixes = []string{"QT_", "QML_", "QML2_"}

// tempUnpackedMarker identifies self-extracting bundle directories that the
// host appends to PATH at runtime. They point inside the host's own
// temporary unpack dir and must never reach the child.
const tempUnpackedMarker = "_MEI"

// SanitizeEnv returns env with all framework-namespace variables removed and
// temporary-unpacked-dir entries stripped out of PATH. The input slice is
// not modified.
func SanitizeEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if isFrameworkVar(name) {
			continue
		}
		if strings.EqualFold(name, "PATH") {
			out = append(out, name+"="+cleanPath(value))
			continue
		}
		out = append(out, kv)
	}
	return out
}

func isFrameworkVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, p := range frameworkPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// cleanPath drops PATH entries containing a temp-unpacked marker.
func cleanPath(path string) string {
	sep := string(os.PathListSeparator)
	parts := strings.Split(path, sep)
	kept := parts[:0]
	for _, p := range parts {
		if strings.Contains(p, tempUnpackedMarker) {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, sep)
}
