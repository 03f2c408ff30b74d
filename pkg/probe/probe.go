// Package probe runs per-service health checks: a bounded poll loop whose
// outcome (healthy or terminally unhealthy) is written to the state store.
package probe

import (
	"context"
	"net"
	"net/http"
	"os/exec"
	"syscall"
	"time"

	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/pkg/errors"
)

// Checker performs a single probe attempt. A nil error means the service
// answered; any error counts against the retry budget.
type Checker interface {
	Check(ctx context.Context) error
}

// NewChecker builds a Checker from a descriptor healthcheck.
func NewChecker(service string, h *stack.HealthCheck) (Checker, error) {
	if h == nil {
		return nil, errors.Errorf("service %q has no healthcheck", service)
	}
	switch h.Type {
	case "http":
		if h.URL == "" {
			return nil, errors.Errorf("service %q: http healthcheck missing url", service)
		}
		return &httpChecker{url: h.URL}, nil
	case "tcp":
		if h.Address == "" {
			return nil, errors.Errorf("service %q: tcp healthcheck missing address", service)
		}
		return &tcpChecker{address: h.Address}, nil
	case "cmd":
		if len(h.Command) == 0 {
			return nil, errors.Errorf("service %q: cmd healthcheck missing command", service)
		}
		return &cmdChecker{command: h.Command}, nil
	default:
		return nil, errors.Errorf("service %q: unsupported healthcheck type %q", service, h.Type)
	}
}

type httpChecker struct {
	url string
}

func (c *httpChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return errors.Wrap(err, "build probe request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "http probe")
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return errors.Errorf("http probe: status %d", resp.StatusCode)
}

type tcpChecker struct {
	address string
}

func (c *tcpChecker) Check(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return errors.Wrap(err, "tcp probe")
	}
	_ = conn.Close()
	return nil
}

type cmdChecker struct {
	command []string
}

func (c *cmdChecker) Check(ctx context.Context) error {
	// #nosec G204 -- probe command comes from the stack descriptor.
	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	// Probe commands may fork. Run them in their own process group and kill
	// the whole group on timeout so no grandchildren outlive the attempt.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return errors.Wrap(cmd.Run(), "cmd probe")
}

// Params are the resolved poll-loop budgets of one healthcheck.
type Params struct {
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 3 * time.Second
	DefaultRetries  = 3
)

// ParamsFrom applies defaults for unset descriptor fields.
func ParamsFrom(h *stack.HealthCheck) Params {
	p := Params{
		Interval:    DefaultInterval,
		Timeout:     DefaultTimeout,
		Retries:     DefaultRetries,
		StartPeriod: 0,
	}
	if h == nil {
		return p
	}
	if h.Interval > 0 {
		p.Interval = h.Interval.Std()
	}
	if h.Timeout > 0 {
		p.Timeout = h.Timeout.Std()
	}
	if h.Retries > 0 {
		p.Retries = h.Retries
	}
	if h.StartPeriod > 0 {
		p.StartPeriod = h.StartPeriod.Std()
	}
	return p
}
