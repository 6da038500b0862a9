// Package admin serves the operator gRPC surface: standard health checks and
// an admin service for broadcasts and registry stats.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/project-spire/spire-game-server/internal/dispatch"
	"github.com/project-spire/spire-game-server/internal/protocol"
)

// NoticeKind is the event kind of an admin broadcast.
const NoticeKind = "notice"

// Dispatcher is the part of the dispatcher the admin service drives.
type Dispatcher interface {
	dispatch.Sender
	Stats(ctx context.Context) (dispatch.Stats, error)
}

// Service implements AdminServiceServer on top of the dispatcher.
type Service struct {
	server Dispatcher
	logger *zap.Logger
}

var _ AdminServiceServer = (*Service)(nil)

// NewService creates the admin service.
func NewService(server Dispatcher, logger *zap.Logger) *Service {
	return &Service{server: server, logger: logger}
}

// Broadcast wraps the value in a notice event and sends it to every room.
func (s *Service) Broadcast(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if len(in.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty broadcast")
	}
	frame, err := protocol.Encode(protocol.CategoryGame,
		protocol.MarshalGame(&protocol.Event{Kind: NoticeKind, Payload: in.GetValue()}))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.server.Send(ctx, dispatch.Broadcast{Frame: frame}); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	s.logger.Info("admin broadcast", zap.Int("bytes", len(in.GetValue())))
	return &emptypb.Empty{}, nil
}

// Stats reports session, transfer and per-room player counts.
func (s *Service) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.server.Stats(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	rooms := make([]any, 0, len(st.Rooms))
	for _, r := range st.Rooms {
		rooms = append(rooms, map[string]any{
			"id":      uint64(r.ID),
			"name":    r.Name,
			"players": r.Players,
			"alive":   r.Alive,
		})
	}
	out, err := structpb.NewStruct(map[string]any{
		"sessions":  st.Sessions,
		"transfers": st.Transfers,
		"rooms":     rooms,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Server hosts the admin and health services. It implements server.Service.
type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer registers svc and the health service on a new gRPC server.
//
// Precondition: svc and logger must be non-nil.
func NewServer(addr string, svc AdminServiceServer, logger *zap.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	RegisterAdminServiceServer(gs, svc)
	return &Server{addr: addr, grpc: gs, health: hs, logger: logger.Named("admin")}
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until Stop or ctx cancellation.
//
// Postcondition: Health reports SERVING while Serve runs.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	start := time.Now()
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("admin server listening",
		zap.String("addr", lis.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopWatch:
		}
	}()

	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving admin: %w", err)
	}
	return nil
}

// Stop marks the services NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Addr returns the listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
