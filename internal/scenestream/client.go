package scenestream

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/view"
)

// Client calls SceneService over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, fields map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Play(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, "Play", nil)
}

func (c *Client) Pause(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, "Pause", nil)
}

func (c *Client) Seek(ctx context.Context, tMs int64) (*structpb.Struct, error) {
	return c.call(ctx, "Seek", map[string]interface{}{"t_ms": tMs})
}

func (c *Client) SetRate(ctx context.Context, rate float64) (*structpb.Struct, error) {
	return c.call(ctx, "SetRate", map[string]interface{}{"rate": rate})
}

func (c *Client) SetMode(ctx context.Context, m view.Mode) (*structpb.Struct, error) {
	return c.call(ctx, "SetMode", map[string]interface{}{"mode": string(m)})
}

func (c *Client) LoadRange(ctx context.Context, r tags.TimeRange) (*structpb.Struct, error) {
	return c.call(ctx, "LoadRange", map[string]interface{}{"start_ms": r.Start, "end_ms": r.End})
}

func (c *Client) GetCapabilities(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, "GetCapabilities", nil)
}

// SceneStream receives scenes from StreamScenes.
type SceneStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next scene.
func (s *SceneStream) Recv() (*view.Scene, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return SceneFromStruct(msg)
}

// StreamScenes opens a scene stream. Cancel ctx to close it.
func (c *Client) StreamScenes(ctx context.Context) (*SceneStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("StreamScenes"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SceneStream{stream: stream}, nil
}
