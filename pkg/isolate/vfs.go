package isolate

import (
	"fmt"
	"strings"
)

// vfs is a read-only view over a template's content map (path -> source
// text), used by the require loader installed on each sub-isolate
// (spec §4.4 step 4, §4.5).
type vfs struct {
	files map[string]string
}

func newVFS(content map[string]string) *vfs {
	return &vfs{files: content}
}

// resolve normalizes a require()'d module path against the virtual
// filesystem, trying both the bare name and a ".luau" suffix, with and
// without a leading slash.
func (v *vfs) resolve(path string) (string, string, bool) {
	candidates := []string{path}
	if !strings.HasPrefix(path, "/") {
		candidates = append(candidates, "/"+path)
	}
	more := make([]string, 0, len(candidates)*2)
	for _, c := range candidates {
		more = append(more, c)
		if !strings.HasSuffix(c, ".luau") {
			more = append(more, c+".luau")
		}
	}
	for _, c := range more {
		if src, ok := v.files[c]; ok {
			return c, src, true
		}
	}
	return "", "", false
}

func (v *vfs) load(path string) (string, string, error) {
	resolved, src, ok := v.resolve(path)
	if !ok {
		return "", "", fmt.Errorf("module %q not found in template content", path)
	}
	return resolved, src, nil
}
