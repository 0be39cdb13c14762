package visualiser

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// StreamRequest selects what a client receives.
type StreamRequest struct {
	// IncludeTasks adds the per-task outcomes to each frame.
	IncludeTasks bool
	// Every sends only every Nth frame; values below 1 send all frames.
	Every int
}

func (r StreamRequest) toProto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"include_tasks": r.IncludeTasks,
		"every":         r.Every,
	})
}

func streamRequestFromProto(s *structpb.Struct) StreamRequest {
	var req StreamRequest
	if s == nil {
		return req
	}
	if v, ok := s.GetFields()["include_tasks"]; ok {
		req.IncludeTasks = v.GetBoolValue()
	}
	if v, ok := s.GetFields()["every"]; ok {
		req.Every = int(v.GetNumberValue())
	}
	return req
}

// frameToProto converts a frame into the wire message. 64-bit counters
// travel as decimal strings since structpb numbers are doubles.
func frameToProto(frame *Frame, req StreamRequest) (*structpb.Struct, error) {
	f := *frame
	if !req.IncludeTasks {
		f.Tasks = nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// FrameFromProto decodes a wire message received by a client.
func FrameFromProto(s *structpb.Struct) (*Frame, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("visualiser: encode frame: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("visualiser: decode frame: %w", err)
	}
	return &f, nil
}
