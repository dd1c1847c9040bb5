package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/modelhost/mcp-client-go/pkg/errors"
	"github.com/modelhost/mcp-client-go/pkg/logging"
	"github.com/modelhost/mcp-client-go/pkg/observability"
	"github.com/modelhost/mcp-client-go/pkg/protocol"
)

// stdioTransport speaks line-delimited JSON with a child process: one frame
// per newline-terminated line on the child's stdin and stdout. Stderr is
// drained best-effort into the log. A broken pipe triggers at most one
// subprocess restart per failure; in-flight requests are abandoned across a
// restart and surface to their callers as timeouts.
type stdioTransport struct {
	*BaseTransport

	config  Config
	logger  logging.Logger
	metrics observability.MetricsProvider

	// procMu guards the subprocess and its pipes across restarts.
	procMu sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// writeMu serializes frame writes.
	writeMu sync.Mutex
	writer  *bufio.Writer

	running   chan struct{}
	group     *errgroup.Group
	closeOnce sync.Once
}

func newStdioTransport(config Config) (Transport, error) {
	return &stdioTransport{
		BaseTransport: NewBaseTransport(config.Logger, config.RequestTimeout),
		config:        config,
		logger:        config.Logger.WithFields(logging.String("transport", "stdio")),
		metrics:       config.Metrics,
		running:       make(chan struct{}),
		group:         new(errgroup.Group),
	}, nil
}

// Start spawns the subprocess (or adopts the configured test streams) and
// launches the reader goroutines. It returns as soon as they are launched.
func (t *stdioTransport) Start(ctx context.Context) error {
	if t.config.StdioReader != nil {
		// Test mode: frame over the provided streams, no subprocess.
		rc, ok := t.config.StdioReader.(io.ReadCloser)
		if !ok {
			rc = io.NopCloser(t.config.StdioReader)
		}
		t.procMu.Lock()
		t.stdout = rc
		t.procMu.Unlock()
		t.writeMu.Lock()
		t.writer = bufio.NewWriter(t.config.StdioWriter)
		t.writeMu.Unlock()
	} else if err := t.spawn(); err != nil {
		return mcperrors.ConnectionFailed(string(TypeStdio), t.config.Command, err)
	}

	t.metrics.RecordConnectionState(ctx, string(TypeStdio), "connected")

	t.group.Go(func() error {
		t.readLoop()
		return nil
	})

	return nil
}

// spawn starts the subprocess and wires its three pipes. Callers must not
// hold procMu.
func (t *stdioTransport) spawn() error {
	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	t.procMu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr
	t.procMu.Unlock()

	t.writeMu.Lock()
	t.writer = bufio.NewWriter(stdin)
	t.writeMu.Unlock()

	t.group.Go(func() error {
		t.drainStderr(stderr)
		return nil
	})

	return nil
}

// readLoop scans stdout line by line for the lifetime of the transport.
// Empty lines are skipped; non-JSON lines are logged and discarded. When
// the stream fails the loop restarts the subprocess once per failure, up to
// the configured bound, always rechecking the running flag so Close wins.
func (t *stdioTransport) readLoop() {
	restarts := 0
	for {
		select {
		case <-t.running:
			return
		default:
		}

		t.procMu.Lock()
		stdout := t.stdout
		t.procMu.Unlock()
		if stdout == nil {
			return
		}

		err := t.scan(stdout)
		if err != nil {
			t.logger.Warn("stdout stream failed", logging.ErrorField(err))
		}

		select {
		case <-t.running:
			return
		default:
		}

		if t.config.StdioReader != nil {
			// Nothing to restart in test mode.
			return
		}

		restarts++
		if restarts > t.config.MaxRestarts {
			t.logger.Error("giving up on subprocess after repeated failures",
				logging.Int("restarts", restarts-1))
			t.metrics.RecordConnectionState(context.Background(), string(TypeStdio), "disconnected")
			return
		}

		// Brief pause, then one restart attempt for this failure. Pending
		// requests from before the failure are left to time out.
		time.Sleep(t.config.ReconnectDelay)
		t.logger.Info("restarting subprocess", logging.Int("attempt", restarts))
		t.metrics.RecordTransportRestart(context.Background(), string(TypeStdio))

		t.killProcess()
		if err := t.spawn(); err != nil {
			t.logger.Error("subprocess restart failed", logging.ErrorField(err))
			continue
		}
	}
}

func (t *stdioTransport) scan(stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-t.running:
			return nil
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if !json.Valid(line) {
			t.logger.Warn("discarding non-JSON line from server", logging.String("line", truncate(line, 256)))
			continue
		}

		data := make([]byte, len(line))
		copy(data, line)
		t.DispatchMessage(data)
	}

	return scanner.Err()
}

func (t *stdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("server stderr", logging.String("line", scanner.Text()))
	}
}

// send writes one frame followed by a newline under the write mutex. A
// write failure marks the transport broken for this send; the read loop
// owns the restart.
func (t *stdioTransport) send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writer == nil {
		return mcperrors.TransportBroken(string(TypeStdio), "write", io.ErrClosedPipe)
	}

	if _, err := t.writer.Write(data); err != nil {
		return mcperrors.TransportBroken(string(TypeStdio), "write", err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return mcperrors.TransportBroken(string(TypeStdio), "write", err)
	}
	if err := t.writer.Flush(); err != nil {
		return mcperrors.TransportBroken(string(TypeStdio), "flush", err)
	}
	return nil
}

// SendRequest allocates an ID, registers the pending slot, writes the frame,
// and waits for the reader to deliver the response.
func (t *stdioTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := t.NextID()

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.ProtocolError(method, err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, mcperrors.ProtocolError(method, err)
	}

	ch, err := t.RegisterPending(id)
	if err != nil {
		return nil, err
	}

	if err := t.send(data); err != nil {
		t.RemovePending(id)
		return nil, err
	}

	resp, err := t.WaitForResponse(ctx, method, id, ch)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, mcperrors.ProtocolError(method, resp.Error)
	}
	return resp.Result, nil
}

// SendNotification writes a notification frame without registering a slot.
func (t *stdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.ProtocolError(method, err)
	}
	data, err := json.Marshal(notif)
	if err != nil {
		return mcperrors.ProtocolError(method, err)
	}
	return t.send(data)
}

func (t *stdioTransport) killProcess() {
	t.procMu.Lock()
	cmd := t.cmd
	stdin := t.stdin
	t.procMu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

// Close tears the transport down: stdin first so the child sees EOF, then
// the child itself with a bounded wait, then the remaining pipes and the
// reader goroutines. All I/O errors during shutdown are swallowed.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.running)

		t.procMu.Lock()
		cmd := t.cmd
		stdin := t.stdin
		stdout := t.stdout
		stderr := t.stderr
		t.procMu.Unlock()

		if stdin != nil {
			_ = stdin.Close()
		}

		if cmd != nil {
			waited := make(chan struct{})
			go func() {
				_ = cmd.Wait()
				close(waited)
			}()
			select {
			case <-waited:
			case <-time.After(1 * time.Second):
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				<-waited
			}
		}

		if stdout != nil {
			_ = stdout.Close()
		}
		if stderr != nil {
			_ = stderr.Close()
		}

		// Bounded join on the reader goroutines.
		joined := make(chan struct{})
		go func() {
			_ = t.group.Wait()
			close(joined)
		}()
		select {
		case <-joined:
		case <-time.After(1 * time.Second):
			t.logger.Warn("reader goroutines did not stop within shutdown bound")
		}

		t.Cleanup()
		t.metrics.RecordConnectionState(context.Background(), string(TypeStdio), "disconnected")
	})
	return nil
}
