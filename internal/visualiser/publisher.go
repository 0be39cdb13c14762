// Package visualiser streams control cycles (pose, command and task
// outcomes) to remote viewers over gRPC.
package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/mobile-manipulator/internal/control"
	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
)

var logf = monitoring.Component("visualiser")

// Config holds configuration for the visualiser gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// QueueSize bounds the frames waiting to be broadcast
	QueueSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50061",
		MaxClients: 5,
		QueueSize:  100,
	}
}

// PublisherStats reports streaming counters.
type PublisherStats struct {
	Frames  uint64
	Dropped uint64
	Clients int32
}

// Publisher owns the gRPC server and fans frames out to clients.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	frameChan chan *Frame
	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	frameCount    atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id      string
	request StreamRequest
	frameCh chan *Frame
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 5
	}
	return &Publisher{
		config:    cfg,
		frameChan: make(chan *Frame, cfg.QueueSize),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on ListenAddr and serves the stream.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the stream on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if p.running.Swap(true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterService(p.server, NewServer(p))

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server.
func (p *Publisher) Stop() {
	if !p.running.Swap(false) {
		return
	}
	close(p.stopCh)
	// Streams end when their context is cancelled by Stop; GracefulStop
	// would wait for clients that never hang up.
	p.server.Stop()
	p.wg.Wait()
	logf("gRPC server stopped")
}

// Addr returns the listening address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// ObserveCycle publishes a completed control cycle.
func (p *Publisher) ObserveCycle(pose estimator.PoseEstimate, res control.Result) {
	p.Publish(NewFrame(pose, res))
}

// Publish queues a frame for every connected client. Frames are dropped
// when the queue is full.
func (p *Publisher) Publish(frame *Frame) {
	if !p.running.Load() || frame == nil {
		return
	}
	select {
	case p.frameChan <- frame:
		p.frameCount.Add(1)
	default:
		if dropped := p.droppedFrames.Add(1); dropped%100 == 1 {
			logf("frame queue full, dropped %d frames so far", dropped)
		}
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.frameChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				select {
				case client.frameCh <- frame:
				default:
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient(req StreamRequest) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("client limit %d reached", p.config.MaxClients)
	}
	client := &clientStream{
		id:      fmt.Sprintf("grpc-%d", p.nextID.Add(1)),
		request: req,
		frameCh: make(chan *Frame, 10),
	}
	p.clients[client.id] = client
	logf("client connected: %s (total: %d)", client.id, p.clientCount.Add(1))
	return client, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		logf("client disconnected: %s (remaining: %d)", id, p.clientCount.Add(-1))
	}
}

// Stats returns the current counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Frames:  p.frameCount.Load(),
		Dropped: p.droppedFrames.Load(),
		Clients: p.clientCount.Load(),
	}
}
