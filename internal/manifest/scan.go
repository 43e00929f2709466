package manifest

import (
	"sort"
)

// FileRef is a file descriptor discovered in a manifest.
type FileRef struct {
	Filename  string
	Subfolder string
	Type      string
}

// Scan walks a decoded manifest tree and returns every object that carries a non-empty
// string "filename". Key names above the descriptors are not assumed, so slots that
// mix unrelated collections (images next to text or numbers) are handled uniformly.
// Map keys are visited in sorted order so results are deterministic.
func Scan(tree any) []FileRef {
	var refs []FileRef
	scan(tree, &refs)
	return refs
}

func scan(node any, refs *[]FileRef) {
	switch v := node.(type) {
	case map[string]any:
		if name, ok := v["filename"].(string); ok && name != "" {
			ref := FileRef{Filename: name}
			ref.Subfolder, _ = v["subfolder"].(string)
			ref.Type, _ = v["type"].(string)
			*refs = append(*refs, ref)
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			scan(v[k], refs)
		}
	case []any:
		for _, elem := range v {
			scan(elem, refs)
		}
	}
}
