package pipeline

import (
	"encoding/json"
	"fmt"
)

// EncodeArtifact serializes a stage artifact for the artifact store.
func EncodeArtifact(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return data, nil
}

// DecodeRaw deserializes a collection artifact.
func DecodeRaw(data []byte) (*RawArtifact, error) {
	var a RawArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode raw artifact: %w", err)
	}
	return &a, nil
}

// DecodeProcessed deserializes a processing artifact.
func DecodeProcessed(data []byte) (*ProcessedArtifact, error) {
	var a ProcessedArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode processed artifact: %w", err)
	}
	return &a, nil
}
