package domain

// ArtifactRef is a durable reference to a delivered artifact, handed back
// by the result store.
type ArtifactRef struct {
	// Key is the store-specific identifier (a path for the local store).
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}
