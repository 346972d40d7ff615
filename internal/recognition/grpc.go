package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// IdentifyMethod is the full gateway RPC name. The request is the raw WAV clip
// as google.protobuf.BytesValue; the response is the identify JSON document as
// google.protobuf.Struct.
const IdentifyMethod = "/songid.v1.Recognizer/Identify"

// GRPCConfig configures the recognition gateway client.
type GRPCConfig struct {
	Endpoint    string
	DialTimeout time.Duration
	Timeout     time.Duration
}

// GRPCClient identifies songs through a gRPC recognition gateway.
type GRPCClient struct {
	cfg    GRPCConfig
	conn   *grpc.ClientConn
	logger *slog.Logger
}

// NewGRPCClient creates a lazily connecting gateway client.
func NewGRPCClient(cfg GRPCConfig, logger *slog.Logger) (*GRPCClient, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: grpc endpoint is empty", ErrNotConfigured)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial recognition grpc %q: %w", cfg.Endpoint, err)
	}
	return &GRPCClient{cfg: cfg, conn: conn, logger: logger}, nil
}

// Identify sends wav to the gateway and maps its answer onto a Song.
func (c *GRPCClient) Identify(ctx context.Context, wav []byte) (Song, error) {
	if len(wav) == 0 {
		return Song{}, fmt.Errorf("%w: audio sample is empty", ErrNetwork)
	}

	readyCtx, cancelReady := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancelReady()
	c.conn.Connect()
	if err := waitForReady(readyCtx, c.conn); err != nil {
		return Song{}, fmt.Errorf("%w: wait for gateway readiness: %w", ErrNetwork, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp := &structpb.Struct{}
	err := c.conn.Invoke(callCtx, IdentifyMethod, wrapperspb.Bytes(wav), resp)
	logger := c.logger.With(
		"endpoint", c.cfg.Endpoint,
		"sample_bytes", len(wav),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	if err != nil {
		logger.Warn("gateway identify failed", "error", err.Error())
		return Song{}, mapRPCError(err)
	}

	body, err := protojson.Marshal(resp)
	if err != nil {
		return Song{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	song, err := parseIdentifyResponse(body)
	if err != nil {
		logger.Info("gateway identify finished without match", "error", err.Error())
		return Song{}, err
	}
	logger.Info("gateway identify succeeded", "title", song.Title)
	return song, nil
}

// Close releases the underlying connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func mapRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return ErrNoMatch
	case codes.InvalidArgument, codes.DataLoss:
		return &ServiceError{Code: int(st.Code()), Message: st.Message()}
	case codes.Canceled:
		return fmt.Errorf("%w: %w", ErrNetwork, context.Canceled)
	default:
		return fmt.Errorf("%w: %s", ErrNetwork, st.String())
	}
}

// ProbeGRPC reports whether endpoint reaches the Ready state within timeout.
func ProbeGRPC(ctx context.Context, endpoint string, timeout time.Duration) error {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial recognition grpc %q: %w", endpoint, err)
	}
	defer conn.Close()

	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn.Connect()
	return waitForReady(readyCtx, conn)
}

// waitForReady blocks until gRPC connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
