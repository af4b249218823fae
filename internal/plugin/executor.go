package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when a plugin does not finish within the executor timeout.
var ErrTimeout = errors.New("plugin execution timeout")

// Executor runs one hook process per request.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates an Executor that kills hooks running longer than timeout.
func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{timeout: timeout}
}

// Timeout returns the per-execution timeout.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute starts the plugin executable in its own directory, writes req as JSON on
// stdin and decodes a Response from stdout. A request without Config carries the
// manifest defaults. req itself is not modified.
func (e *Executor) Execute(ctx context.Context, p *Plugin, req *Request) (*Response, error) {
	payload, err := encodeRequest(p, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Executable)
	cmd.Dir = p.Path
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s: %w after %s", p.Manifest.Name, ErrTimeout, e.timeout)
	}
	if runErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s exited: %w: %s", p.Manifest.Name, runErr, msg)
		}
		return nil, fmt.Errorf("%s exited: %w", p.Manifest.Name, runErr)
	}

	resp := new(Response)
	if err := json.Unmarshal(stdout.Bytes(), resp); err != nil {
		return nil, fmt.Errorf("%s returned bad response %q: %w", p.Manifest.Name, stdout.String(), err)
	}
	return resp, nil
}

func encodeRequest(p *Plugin, req *Request) ([]byte, error) {
	out := *req
	if out.Config == nil {
		out.Config = p.Manifest.Config
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", out.Event, err)
	}
	return data, nil
}
