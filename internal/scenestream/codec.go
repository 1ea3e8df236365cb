package scenestream

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/tagtrack/internal/view"
)

// SceneToStruct converts a scene to its wire form. Field names follow the
// scene's JSON encoding.
func SceneToStruct(s *view.Scene) (*structpb.Struct, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode scene: %w", err)
	}
	st := new(structpb.Struct)
	if err := protojson.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("encode scene: %w", err)
	}
	return st, nil
}

// SceneFromStruct is the inverse of SceneToStruct.
func SceneFromStruct(st *structpb.Struct) (*view.Scene, error) {
	b, err := protojson.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("decode scene: %w", err)
	}
	var s view.Scene
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode scene: %w", err)
	}
	return &s, nil
}
