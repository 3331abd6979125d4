package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// DurableFanout is the optional, Redis-backed side of room fan-out (spec
// §4.B "so a bridge restart does not lose in-flight forwards"). It is
// adapted from the shape of the teacher's own Pulse stream wrapper
// (features/stream/pulse/clients/pulse/client.go and features/stream/pulse/
// sink.go): a thin Stream-per-name abstraction over goa.design/pulse/streaming,
// reused here keyed by room (channelID) instead of by run/session.
type DurableFanout interface {
	// Publish appends frame to the room's durable stream.
	Publish(ctx context.Context, roomID string, frame []byte) error
	// Subscribe opens a resumable consumer on the room's durable stream.
	// The returned channel is closed, and the cancel func becomes a no-op,
	// once the sink is closed.
	Subscribe(ctx context.Context, roomID string) (<-chan []byte, func(), error)
}

const durableFanoutEvent = "frame"

// PulseFanout implements DurableFanout on top of Pulse streams, one stream
// per room, lazily created and cached.
type PulseFanout struct {
	redis   *redis.Client
	maxLen  int
	mu      sync.Mutex
	streams map[string]*streaming.Stream
}

// NewPulseFanout constructs a PulseFanout backed by redisClient. maxLen
// bounds each room's durable stream length (0 uses the Pulse default).
func NewPulseFanout(redisClient *redis.Client, maxLen int) *PulseFanout {
	return &PulseFanout{
		redis:   redisClient,
		maxLen:  maxLen,
		streams: make(map[string]*streaming.Stream),
	}
}

func (p *PulseFanout) stream(roomID string) (*streaming.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.streams[roomID]; ok {
		return s, nil
	}
	var opts []streamopts.Stream
	if p.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(p.maxLen))
	}
	s, err := streaming.NewStream(roomID, p.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("bridge: open pulse stream for room %q: %w", roomID, err)
	}
	p.streams[roomID] = s
	return s, nil
}

// Publish implements DurableFanout.
func (p *PulseFanout) Publish(ctx context.Context, roomID string, frame []byte) error {
	s, err := p.stream(roomID)
	if err != nil {
		return err
	}
	_, err = s.Add(ctx, durableFanoutEvent, frame)
	return err
}

// Subscribe implements DurableFanout using a resumable consumer group sink,
// matching the teacher's tool-result waiting loop's use of Pulse sinks for
// at-least-once delivery.
func (p *PulseFanout) Subscribe(ctx context.Context, roomID string) (<-chan []byte, func(), error) {
	s, err := p.stream(roomID)
	if err != nil {
		return nil, nil, err
	}
	sink, err := s.NewSink(ctx, "bridge:"+roomID)
	if err != nil {
		return nil, nil, fmt.Errorf("bridge: open pulse sink for room %q: %w", roomID, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for ev := range sink.Subscribe() {
			out <- ev.Payload
			_ = sink.Ack(ctx, ev)
		}
	}()

	closeFn := func() { sink.Close(ctx) }
	return out, closeFn, nil
}
