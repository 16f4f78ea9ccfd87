// Package healthserver reports database reachability over the gRPC health
// protocol. The status follows a background ping of the store.
package healthserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/berth/pkg/poller"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service reported alongside the overall status.
const ServiceName = "berth.v1.Market"

const resourceID = "database"

// Pinger checks that the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves grpc.health.v1.Health.
type Server struct {
	pinger     Pinger
	logger     *zap.Logger
	health     *health.Server
	grpcServer *grpc.Server
	options    []poller.Option

	mu           sync.Mutex
	subscription *poller.Subscription[time.Duration]
}

// New builds a server that reports NOT_SERVING until the first ping succeeds.
func New(pinger Pinger, logger *zap.Logger, options ...poller.Option) (*Server, error) {
	if pinger == nil {
		return nil, fmt.Errorf("healthserver: pinger is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	server := &Server{
		pinger:     pinger,
		logger:     logger,
		health:     healthServer,
		grpcServer: grpcServer,
		options:    append([]poller.Option{poller.WithLogger(logger)}, options...),
	}
	server.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return server, nil
}

// Start begins pinging the store every interval until ctx ends.
func (server *Server) Start(ctx context.Context, interval time.Duration) error {
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.subscription != nil {
		return fmt.Errorf("healthserver: already started")
	}
	subscription, err := poller.Start(ctx, resourceID, interval, server.ping, server.options...)
	if err != nil {
		return err
	}
	server.subscription = subscription
	return nil
}

// Refresh pings immediately and returns the ping error, if any.
func (server *Server) Refresh(ctx context.Context) error {
	server.mu.Lock()
	subscription := server.subscription
	server.mu.Unlock()
	if subscription == nil {
		return server.pingOnce(ctx)
	}
	_, err := subscription.Refresh(ctx)
	return err
}

// LastLatency returns the latency of the most recent successful ping.
func (server *Server) LastLatency() (time.Duration, bool) {
	server.mu.Lock()
	subscription := server.subscription
	server.mu.Unlock()
	if subscription == nil {
		return 0, false
	}
	snapshot, ok := subscription.Snapshot()
	return snapshot.Value, ok
}

// Serve answers health checks on listener until ctx is cancelled.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("gRPC health server starting", zap.String("listen_addr", listener.Addr().String()))
		errCh <- server.grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		server.logger.Info("health server shutdown requested")
		server.health.Shutdown()
		server.grpcServer.GracefulStop()
		server.stopPolling()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		server.stopPolling()
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

func (server *Server) stopPolling() {
	server.mu.Lock()
	subscription := server.subscription
	server.mu.Unlock()
	poller.Stop(subscription)
}

func (server *Server) ping(ctx context.Context) (time.Duration, error) {
	started := time.Now()
	if err := server.pingOnce(ctx); err != nil {
		return 0, err
	}
	return time.Since(started), nil
}

func (server *Server) pingOnce(ctx context.Context) error {
	if err := server.pinger.Ping(ctx); err != nil {
		server.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	server.setStatus(healthpb.HealthCheckResponse_SERVING)
	return nil
}

func (server *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	server.health.SetServingStatus("", status)
	server.health.SetServingStatus(ServiceName, status)
}
