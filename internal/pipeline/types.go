package pipeline

import (
	"encoding/json"

	"giftforge/internal/manifest"
)

// Stage names accepted by Status.
const (
	StageImage = "image"
	StageMesh  = "mesh"
)

// Slice response statuses.
const (
	SliceSuccess = "success"
	SliceError   = "error"
)

// ImageRequest starts stage 1. Zero optional fields keep the template's values.
type ImageRequest struct {
	VisualPrompt string  `json:"visual_prompt"`
	Guidance     float64 `json:"guidance,omitempty"`
	Steps        int     `json:"steps,omitempty"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
}

// MeshRequest starts stage 2 from a published stage-1 image.
type MeshRequest struct {
	ImageURL string `json:"image_url"`
}

// JobResponse is returned by both stage submissions.
type JobResponse struct {
	Status manifest.Status `json:"status"`
	JobID  string          `json:"job_id"`
}

// StatusResponse reports a job's progress. Images carries every published URL,
// meshes included.
type StatusResponse struct {
	Status manifest.Status `json:"status"`
	Images []string        `json:"images,omitempty"`
}

// SliceResponse is the quote for an uploaded mesh, or the reason it failed.
type SliceResponse struct {
	Status    string  `json:"status"`
	GcodeURL  string  `json:"gcodeUrl,omitempty"`
	Volume    float64 `json:"volume"`
	Weight    float64 `json:"weight"`
	PrintTime string  `json:"printTime,omitempty"`
	Price     float64 `json:"price"`
	Material  string  `json:"material,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// MarshalJSON always writes the quote fields of a success, zeros included, and
// reduces an error to its status and message.
func (r SliceResponse) MarshalJSON() ([]byte, error) {
	if r.Status == SliceError {
		return json.Marshal(struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}{r.Status, r.Message})
	}
	type quote SliceResponse
	return json.Marshal(quote(r))
}
