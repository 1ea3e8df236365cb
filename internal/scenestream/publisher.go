package scenestream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/tagtrack/internal/playback"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/version"
	"github.com/banshee-data/tagtrack/internal/view"
)

// Config holds configuration for the scene gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50061",
		MaxClients: 8,
	}
}

// Controller is the subset of the view controller the service drives.
type Controller interface {
	Scene() *view.Scene
	Subscribe() (string, <-chan *view.Scene)
	Unsubscribe(id string)
	SetMode(ctx context.Context, m view.Mode) error
	LoadRange(ctx context.Context, r tags.TimeRange) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Scrub(ctx context.Context, t int64) error
	SetSpeed(ctx context.Context, m float64) error
}

var _ SceneServiceServer = (*Publisher)(nil)

const clientBuffer = 4

// Publisher runs the gRPC server and fans scenes out to streaming clients.
// Slow clients miss scenes instead of holding up the others.
type Publisher struct {
	config   Config
	ctrl     Controller
	server   *grpc.Server
	listener net.Listener

	clients   map[string]chan *structpb.Struct
	clientsMu sync.RWMutex

	sceneCount    atomic.Uint64
	droppedScenes atomic.Uint64
	clientCount   atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a Publisher serving ctrl.
func NewPublisher(cfg Config, ctrl Controller) *Publisher {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	return &Publisher{
		config:  cfg,
		ctrl:    ctrl,
		clients: make(map[string]chan *structpb.Struct),
		stopCh:  make(chan struct{}),
	}
}

// Start binds ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background. The publisher owns lis from here.
func (p *Publisher) Serve(lis net.Listener) error {
	select {
	case <-p.stopCh:
		return errors.New("publisher stopped")
	default:
	}
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterService(p.server, p)

	sceneID, scenes := p.ctrl.Subscribe()
	p.wg.Add(1)
	go p.broadcastLoop(sceneID, scenes)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[scenestream] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[scenestream] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends all streams and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.GracefulStop()
	p.listener.Close()
	p.wg.Wait()
	log.Printf("[scenestream] gRPC server stopped")
}

// Addr returns the listening address.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

func (p *Publisher) broadcastLoop(id string, scenes <-chan *view.Scene) {
	defer p.wg.Done()
	defer p.ctrl.Unsubscribe(id)

	for {
		select {
		case <-p.stopCh:
			return
		case s, ok := <-scenes:
			if !ok {
				return
			}
			msg, err := SceneToStruct(s)
			if err != nil {
				log.Printf("[scenestream] %v", err)
				continue
			}
			p.sceneCount.Add(1)
			p.clientsMu.RLock()
			for _, ch := range p.clients {
				select {
				case ch <- msg:
				default:
					p.droppedScenes.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient() (string, chan *structpb.Struct, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return "", nil, status.Errorf(codes.ResourceExhausted, "at most %d scene streams", p.config.MaxClients)
	}
	id := uuid.NewString()
	ch := make(chan *structpb.Struct, clientBuffer)
	p.clients[id] = ch
	n := p.clientCount.Add(1)
	log.Printf("[scenestream] client connected: %s (total: %d)", id, n)
	return id, ch, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		n := p.clientCount.Add(-1)
		log.Printf("[scenestream] client disconnected: %s (remaining: %d)", id, n)
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	SceneCount    uint64 `json:"scene_count"`
	DroppedScenes uint64 `json:"dropped_scenes"`
	ClientCount   int32  `json:"client_count"`
	Running       bool   `json:"running"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		SceneCount:    p.sceneCount.Load(),
		DroppedScenes: p.droppedScenes.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}

// StreamScenes sends the current scene, then every published scene until
// the client goes away or the server stops.
func (p *Publisher) StreamScenes(_ *structpb.Struct, stream grpc.ServerStream) error {
	id, ch, err := p.addClient()
	if err != nil {
		return err
	}
	defer p.removeClient(id)

	first, err := SceneToStruct(p.ctrl.Scene())
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	if err := stream.SendMsg(first); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case msg := <-ch:
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// Play starts or resumes playback.
func (p *Publisher) Play(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return p.playbackStatus(p.ctrl.Play(ctx))
}

// Pause pauses playback.
func (p *Publisher) Pause(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return p.playbackStatus(p.ctrl.Pause(ctx))
}

// Seek moves playback to t_ms.
func (p *Publisher) Seek(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	t, err := number(req, "t_ms")
	if err != nil {
		return nil, err
	}
	return p.playbackStatus(p.ctrl.Scrub(ctx, int64(t)))
}

// SetRate sets the playback speed multiplier.
func (p *Publisher) SetRate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rate, err := number(req, "rate")
	if err != nil {
		return nil, err
	}
	return p.playbackStatus(p.ctrl.SetSpeed(ctx, rate))
}

// SetMode switches between live and history.
func (p *Publisher) SetMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m, ok := view.ParseMode(req.GetFields()["mode"].GetStringValue())
	if !ok {
		return nil, status.Error(codes.InvalidArgument, `mode must be "live" or "history"`)
	}
	return p.playbackStatus(p.ctrl.SetMode(ctx, m))
}

// LoadRange loads [start_ms, end_ms] for playback.
func (p *Publisher) LoadRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	start, err := number(req, "start_ms")
	if err != nil {
		return nil, err
	}
	end, err := number(req, "end_ms")
	if err != nil {
		return nil, err
	}
	return p.playbackStatus(p.ctrl.LoadRange(ctx, tags.TimeRange{Start: int64(start), End: int64(end)}))
}

// GetCapabilities describes what this server supports.
func (p *Publisher) GetCapabilities(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"version":        version.Version,
		"modes":          []interface{}{string(view.ModeLive), string(view.ModeHistory)},
		"supports_seek":  true,
		"supports_rate":  true,
		"max_clients":    p.config.MaxClients,
		"active_clients": int(p.clientCount.Load()),
	})
}

// playbackStatus maps a controller error to a gRPC status, or describes
// the scene the command produced.
func (p *Publisher) playbackStatus(err error) (*structpb.Struct, error) {
	switch {
	case err == nil:
	case errors.Is(err, view.ErrNoRange):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, playback.ErrInvalidSpeed):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, view.ErrNotRunning):
		return nil, status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		return nil, status.Error(codes.Internal, err.Error())
	}

	s := p.ctrl.Scene()
	fields := map[string]interface{}{
		"mode":    string(s.Mode),
		"status":  s.Status,
		"no_data": s.NoData,
	}
	if pb := s.Playback; pb != nil {
		fields["playing"] = pb.Playing
		fields["current_ms"] = pb.CurrentMs
		fields["range_start"] = pb.RangeStart
		fields["range_end"] = pb.RangeEnd
		fields["speed"] = pb.Speed
	}
	return structpb.NewStruct(fields)
}

func number(req *structpb.Struct, key string) (float64, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", key)
	}
	return n.NumberValue, nil
}
