package scenestream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/settings"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/testutil"
	"github.com/banshee-data/tagtrack/internal/timeutil"
	"github.com/banshee-data/tagtrack/internal/view"
)

type memHistory []tags.PositionEvent

func (m memHistory) FetchHistory(_ context.Context, r tags.TimeRange) ([]tags.PositionEvent, error) {
	var out []tags.PositionEvent
	for _, ev := range m {
		if r.Contains(ev.TimestampMs) {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fixture struct {
	client *Client
	pub    *Publisher
	ctrl   *view.Controller
	events chan tags.PositionEvent
}

func newFixture(t *testing.T, maxClients int) *fixture {
	t.Helper()
	testutil.MuteLogs(t)

	store, err := settings.NewStore(settings.Settings{
		View:             geometry.ViewConfig{Extent: 10},
		StaleThresholdMs: 5000,
	}, nil)
	require.NoError(t, err)

	ctrl, err := view.NewController(view.Options{
		Clock:    timeutil.NewMockClock(time.UnixMilli(50_000)),
		Settings: store,
		History:  memHistory(testutil.Track("A", 5, 1, 0, 1000)),
	})
	require.NoError(t, err)

	events := make(chan tags.PositionEvent, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx, view.Inputs{Events: events})
	}()

	lis := bufconn.Listen(1 << 20)
	pub := NewPublisher(Config{MaxClients: maxClients}, ctrl)
	require.NoError(t, pub.Serve(lis))

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		pub.Stop()
		cancel()
		<-done
	})
	return &fixture{client: NewClient(conn), pub: pub, ctrl: ctrl, events: events}
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStreamScenes_DeliversLiveUpdates(t *testing.T) {
	f := newFixture(t, 4)
	ctx := ctxTimeout(t)

	stream, err := f.client.StreamScenes(ctx)
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, view.ModeLive, first.Mode)

	testutil.Eventually(t, 2*time.Second, func() bool { return f.pub.Stats().ClientCount == 1 }, "client registered")
	f.events <- testutil.Event("A", 5, 5, 49_000)

	for {
		s, err := stream.Recv()
		require.NoError(t, err)
		if e, ok := s.Entity("A"); ok {
			assert.Equal(t, 0.5, e.X)
			assert.Equal(t, "tag A", e.Label)
			assert.EqualValues(t, 49_000, e.LastSeenMs)
			break
		}
	}
}

func TestPlaybackControl(t *testing.T) {
	f := newFixture(t, 4)
	ctx := ctxTimeout(t)

	_, err := f.client.Play(ctx)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	res, err := f.client.LoadRange(ctx, tags.TimeRange{Start: 0, End: 4000})
	require.NoError(t, err)
	assert.Equal(t, "history", res.GetFields()["mode"].GetStringValue())

	testutil.Eventually(t, 2*time.Second, func() bool {
		return f.ctrl.Scene().Status == view.StatusPaused
	}, "history loaded")

	res, err = f.client.Seek(ctx, 2500)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, res.GetFields()["current_ms"].GetNumberValue())
	e, ok := f.ctrl.Scene().Entity("A")
	require.True(t, ok)
	assert.Equal(t, 2.0, e.WorldX)

	res, err = f.client.SetRate(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 8.0, res.GetFields()["speed"].GetNumberValue())

	_, err = f.client.SetRate(ctx, -1)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	res, err = f.client.Play(ctx)
	require.NoError(t, err)
	assert.True(t, res.GetFields()["playing"].GetBoolValue())

	res, err = f.client.Pause(ctx)
	require.NoError(t, err)
	assert.False(t, res.GetFields()["playing"].GetBoolValue())

	res, err = f.client.SetMode(ctx, view.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, "live", res.GetFields()["mode"].GetStringValue())
	assert.Nil(t, res.GetFields()["current_ms"])
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t, 4)
	ctx := ctxTimeout(t)

	_, err := f.client.SetMode(ctx, view.Mode("replay"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.client.call(ctx, "Seek", map[string]interface{}{"t_ms": "soon"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.client.call(ctx, "LoadRange", map[string]interface{}{"start_ms": 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestMaxClients(t *testing.T) {
	f := newFixture(t, 1)
	ctx := ctxTimeout(t)

	first, err := f.client.StreamScenes(ctx)
	require.NoError(t, err)
	_, err = first.Recv()
	require.NoError(t, err)

	second, err := f.client.StreamScenes(ctx)
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestGetCapabilities(t *testing.T) {
	f := newFixture(t, 3)
	res, err := f.client.GetCapabilities(ctxTimeout(t))
	require.NoError(t, err)

	assert.Equal(t, 3.0, res.GetFields()["max_clients"].GetNumberValue())
	assert.True(t, res.GetFields()["supports_seek"].GetBoolValue())
	assert.Len(t, res.GetFields()["modes"].GetListValue().GetValues(), 2)
}

func TestSceneStructRoundTrip(t *testing.T) {
	s := &view.Scene{
		Mode:          view.ModeLive,
		Connected:     true,
		Entities:      []view.RenderedEntity{{EntityID: "A", Label: "Daisy", X: 0.25, LastSeenMs: 1_700_000_000_123}},
		Beacons:       []view.RenderedBeacon{},
		GeneratedAtMs: 1_700_000_000_456,
	}
	st, err := SceneToStruct(s)
	require.NoError(t, err)
	got, err := SceneFromStruct(st)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestPublisher_StopIsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	f.pub.Stop()
	f.pub.Stop()
	assert.False(t, f.pub.Stats().Running)
	assert.Error(t, f.pub.Serve(bufconn.Listen(1024)), "a stopped publisher cannot be restarted")
}
