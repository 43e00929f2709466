// Package artifact describes pipeline output files and publishes them to durable storage.
package artifact

import (
	"path/filepath"
	"strings"
)

// Kind classifies an artifact by what the pipeline does with it.
type Kind string

const (
	KindImage Kind = "image"
	KindMesh  Kind = "mesh"
	KindGcode Kind = "gcode"
	KindOther Kind = "other"
)

// Artifact is one concrete output file. URL is empty until the file is published.
type Artifact struct {
	SourcePath string `json:"-"`
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	URL        string `json:"url,omitempty"`
}

// New describes the file at path, published under its base name.
func New(path string) Artifact {
	name := filepath.Base(path)
	return Artifact{SourcePath: path, Name: name, Kind: KindOf(name)}
}

var contentTypes = map[string]string{
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".webp":  "image/webp",
	".glb":   "model/gltf-binary",
	".stl":   "model/stl",
	".gcode": "text/x.gcode",
}

// ContentType returns the MIME type for name, decided by extension alone.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// KindOf classifies name by extension.
func KindOf(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".webp":
		return KindImage
	case ".glb", ".stl", ".obj":
		return KindMesh
	case ".gcode":
		return KindGcode
	default:
		return KindOther
	}
}
