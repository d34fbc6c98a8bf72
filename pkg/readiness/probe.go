package readiness

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Prober performs a single readiness attempt; nil means ready
type Prober interface {
	Probe(ctx context.Context, check Check) error
}

type prober struct {
	logger     logging.Logger
	httpClient *http.Client
	dialer     net.Dialer
}

// NewProber creates a prober that supports all check types.
// Each attempt is bounded by the deadline of the context passed to Probe.
func NewProber(logger logging.Logger) Prober {
	return &prober{
		logger:     logger,
		httpClient: &http.Client{},
	}
}

func (p *prober) Probe(ctx context.Context, check Check) error {
	switch check.Type {
	case CheckTypeTCP, "":
		return p.probeTCP(ctx, check)
	case CheckTypeHTTP:
		return p.probeHTTP(ctx, check)
	case CheckTypeGRPC:
		return p.probeGRPC(ctx, check)
	case CheckTypeExec:
		return p.probeExec(ctx, check)
	default:
		return errors.NewValidationError("unsupported readiness check type: "+string(check.Type), nil)
	}
}

func (p *prober) probeTCP(ctx context.Context, check Check) error {
	target := check.Target()
	p.logger.Debugf("Performing TCP readiness probe, target: %s", target)

	conn, err := p.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return errors.NewNetworkError("TCP connection failed", err).WithContext("target", target)
	}
	conn.Close()
	return nil
}

func (p *prober) probeHTTP(ctx context.Context, check Check) error {
	url := fmt.Sprintf("http://%s%s", check.Target(), check.HTTP.Path)
	p.logger.Debugf("Performing HTTP readiness probe, url: %s", url)

	req, err := http.NewRequestWithContext(ctx, check.HTTP.Method, url, nil)
	if err != nil {
		return errors.NewValidationError("failed to create HTTP request", err).WithContext("url", url)
	}
	for key, value := range check.HTTP.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.NewNetworkError("HTTP request failed", err).WithContext("url", url)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if check.HTTP.ExpectStatus != defaultExpectedStatus {
		if resp.StatusCode != check.HTTP.ExpectStatus {
			return errors.NewNetworkError(fmt.Sprintf("HTTP readiness probe got %d, want %d", resp.StatusCode, check.HTTP.ExpectStatus), nil).WithContext("url", url)
		}
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewNetworkError(fmt.Sprintf("HTTP readiness probe failed: %s", resp.Status), nil).WithContext("url", url)
	}
	return nil
}

func (p *prober) probeGRPC(ctx context.Context, check Check) error {
	target := check.Target()
	p.logger.Debugf("Performing gRPC readiness probe, target: %s, service: '%s'", target, check.GRPC.Service)

	// The client connects lazily; the Check call below fails fast while the
	// port is closed and ctx bounds the attempt otherwise
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return errors.NewNetworkError("gRPC client creation failed", err).WithContext("target", target)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: check.GRPC.Service})
	if err != nil {
		return errors.NewNetworkError("gRPC health check failed", err).WithContext("target", target)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.NewNetworkError("gRPC service not serving: "+resp.GetStatus().String(), nil).WithContext("target", target)
	}
	return nil
}

func (p *prober) probeExec(ctx context.Context, check Check) error {
	p.logger.Debugf("Performing exec readiness probe, command: %s, args: %v", check.Exec.Command, check.Exec.Args)

	cmd := exec.CommandContext(ctx, check.Exec.Command, check.Exec.Args...)
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError("exec readiness probe timed out", ctx.Err()).WithContext("command", check.Exec.Command)
	}
	if err != nil {
		return errors.NewProcessError("exec readiness probe failed", err).
			WithContext("command", check.Exec.Command).
			WithContext("output", strings.TrimSpace(string(output)))
	}
	return nil
}
