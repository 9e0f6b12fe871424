// Package rpc builds the gRPC servers and client connections used between
// stations, nodes and the central server.
package rpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"meteomesh/internal/config"
	_ "meteomesh/internal/meshpb"
)

func init() {
	grpc_prometheus.EnableHandlingTimeHistogram()
}

// NewServer returns a gRPC server with panic recovery, request logging and
// prometheus interceptors. TLS is enabled when cfg names a certificate.
func NewServer(cfg config.Base, logger *slog.Logger) (*grpc.Server, error) {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpc_prometheus.UnaryServerInterceptor,
			unaryLogger(logger),
			unaryRecover(logger),
		),
		grpc.ChainStreamInterceptor(
			grpc_prometheus.StreamServerInterceptor,
			streamRecover(logger),
		),
	}
	if cfg.TLSCertFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	return grpc.NewServer(opts...), nil
}

// EnableMetrics initializes per-method metrics for every registered service.
// Call it after all services are registered.
func EnableMetrics(s *grpc.Server) {
	grpc_prometheus.Register(s)
}

// Dial creates a lazily connecting client for a node or central URL.
// https URLs use TLS without certificate verification; http URLs and bare
// host:port targets are plaintext.
func Dial(rawURL string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	target, secure, err := ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	creds := insecure.NewCredentials()
	if secure {
		//nolint:gosec // peers use self-signed certificates
		creds = credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		grpc.WithChainStreamInterceptor(grpc_prometheus.StreamClientInterceptor),
	}, extra...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return conn, nil
}

// ParseTarget turns a URL into a gRPC target and whether it needs TLS.
func ParseTarget(rawURL string) (target string, secure bool, err error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", false, fmt.Errorf("empty url")
	}
	if !strings.Contains(rawURL, "://") {
		return rawURL, false, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("url %q has no host", rawURL)
	}
	switch u.Scheme {
	case "https":
		return withDefaultPort(u, "443"), true, nil
	case "http":
		return withDefaultPort(u, "80"), false, nil
	default:
		return "", false, fmt.Errorf("unsupported scheme %q in %q", u.Scheme, rawURL)
	}
}

func withDefaultPort(u *url.URL, port string) string {
	if u.Port() != "" {
		return u.Host
	}
	return u.Hostname() + ":" + port
}

func unaryLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

func unaryRecover(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("rpc handler panicked", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func streamRecover(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("stream handler panicked", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(srv, ss)
	}
}
