package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/modelhost/mcp-client-go/pkg/errors"
	"github.com/modelhost/mcp-client-go/pkg/logging"
	"github.com/modelhost/mcp-client-go/pkg/protocol"
	"github.com/modelhost/mcp-client-go/pkg/utils"
)

// lineServer emulates an MCP server on the far side of the stdio pipes: it
// reads request lines and answers through the provided handler.
type lineServer struct {
	t       *testing.T
	in      *io.PipeReader
	out     *io.PipeWriter
	writeMu sync.Mutex
}

func newStdioFixture(t *testing.T, timeout time.Duration, handler func(req *protocol.Request) *protocol.Response) (*stdioTransport, *lineServer) {
	t.Helper()

	toSrvR, toSrvW := io.Pipe()
	fromSrvR, fromSrvW := io.Pipe()

	config := DefaultConfig(TypeStdio)
	config.Logger = logging.NewNop()
	config.RequestTimeout = timeout
	config.StdioReader = fromSrvR
	config.StdioWriter = toSrvW

	tr, err := newStdioTransport(config)
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	srv := &lineServer{t: t, in: toSrvR, out: fromSrvW}
	if handler != nil {
		go srv.serve(handler)
	}

	st := tr.(*stdioTransport)
	t.Cleanup(func() {
		_ = st.Close()
		_ = toSrvR.Close()
		_ = fromSrvW.Close()
	})
	return st, srv
}

func (s *lineServer) serve(handler func(req *protocol.Request) *protocol.Response) {
	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		var req protocol.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if resp := handler(&req); resp != nil {
			resp.JSONRPC = protocol.JSONRPCVersion
			s.writeLine(resp)
		}
	}
}

func (s *lineServer) writeLine(v interface{}) {
	data, err := json.Marshal(v)
	require.NoError(s.t, err)
	s.writeRaw(append(data, '\n'))
}

func (s *lineServer) writeRaw(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = s.out.Write(data)
}

func echoResult(result string) func(req *protocol.Request) *protocol.Response {
	return func(req *protocol.Request) *protocol.Response {
		return &protocol.Response{ID: req.ID, Result: json.RawMessage(result)}
	}
}

func TestStdioRequestResponse(t *testing.T) {
	tr, _ := newStdioFixture(t, 5*time.Second, echoResult(`{"protocolVersion":"2025-03-26","serverInfo":{"name":"s","version":"0"},"capabilities":{}}`))

	result, err := tr.SendRequest(context.Background(), protocol.MethodInitialize, struct{}{})
	require.NoError(t, err)

	var initResult protocol.InitializeResult
	require.NoError(t, json.Unmarshal(result, &initResult))
	assert.Equal(t, "s", initResult.ServerInfo.Name)
	assert.Zero(t, tr.PendingCount())
}

func TestStdioResponseIDMatchesRequestID(t *testing.T) {
	var seenID int64
	tr, _ := newStdioFixture(t, 5*time.Second, func(req *protocol.Request) *protocol.Response {
		seenID = req.ID
		return &protocol.Response{ID: req.ID, Result: json.RawMessage(`{}`)}
	})

	_, err := tr.SendRequest(context.Background(), protocol.MethodPing, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seenID)

	_, err = tr.SendRequest(context.Background(), protocol.MethodPing, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seenID)
}

func TestStdioNonJSONLineDiscarded(t *testing.T) {
	tr, srv := newStdioFixture(t, 5*time.Second, nil)

	go func() {
		scanner := bufio.NewScanner(srv.in)
		n := 0
		for scanner.Scan() {
			var req protocol.Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			n++
			srv.writeLine(&protocol.Response{
				JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
				ID:             req.ID,
				Result:         json.RawMessage(`{}`),
			})
			if n == 1 {
				// Noise between two valid frames must not kill the session.
				srv.writeRaw([]byte("server warming up...\n\n"))
			}
		}
	}()

	_, err := tr.SendRequest(context.Background(), protocol.MethodPing, nil)
	require.NoError(t, err)
	_, err = tr.SendRequest(context.Background(), protocol.MethodPing, nil)
	require.NoError(t, err)
}

func TestStdioConcurrentRequestsOutOfOrderResponses(t *testing.T) {
	tr, srv := newStdioFixture(t, 5*time.Second, nil)

	// Collect both requests, then respond in reverse arrival order.
	go func() {
		scanner := bufio.NewScanner(srv.in)
		var reqs []*protocol.Request
		for scanner.Scan() {
			var req protocol.Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			reqs = append(reqs, &req)
			if len(reqs) == 2 {
				for i := len(reqs) - 1; i >= 0; i-- {
					srv.writeLine(&protocol.Response{
						JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
						ID:             reqs[i].ID,
						Result:         json.RawMessage(`{"order":"late"}`),
					})
				}
				return
			}
		}
	}()

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tr.SendRequest(context.Background(), protocol.MethodListTools, struct{}{})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"order":"late"}`, string(results[i]))
	}
	assert.Zero(t, tr.PendingCount())
}

func TestStdioTimeoutRemovesSlot(t *testing.T) {
	tr, _ := newStdioFixture(t, 100*time.Millisecond, func(req *protocol.Request) *protocol.Response {
		return nil // never respond
	})

	before := tr.PendingCount()
	_, err := tr.SendRequest(context.Background(), protocol.MethodCallTool, struct{}{})
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeRequestTimeout))
	assert.Equal(t, before, tr.PendingCount())
}

func TestStdioServerErrorEnvelope(t *testing.T) {
	tr, _ := newStdioFixture(t, 5*time.Second, func(req *protocol.Request) *protocol.Response {
		return &protocol.Response{
			ID:    req.ID,
			Error: &protocol.Error{Code: protocol.MethodNotFound, Message: "no such method"},
		}
	})

	_, err := tr.SendRequest(context.Background(), "bogus/method", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeProtocolError))
	assert.Contains(t, err.Error(), "no such method")
}

func TestStdioServerNotificationDelivered(t *testing.T) {
	tr, srv := newStdioFixture(t, 5*time.Second, nil)

	got := make(chan *protocol.Notification, 1)
	tr.SetNotificationHandler(func(ctx context.Context, n *protocol.Notification) {
		got <- n
	})

	srv.writeRaw([]byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}` + "\n"))

	select {
	case n := <-got:
		assert.Equal(t, protocol.MethodToolsChanged, n.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestStdioSendNotificationHasNoID(t *testing.T) {
	tr, srv := newStdioFixture(t, 5*time.Second, nil)

	lines := make(chan []byte, 1)
	go func() {
		scanner := bufio.NewScanner(srv.in)
		if scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			lines <- line
		}
	}()

	require.NoError(t, tr.SendNotification(context.Background(), protocol.MethodInitialized, struct{}{}))

	select {
	case line := <-lines:
		assert.True(t, protocol.IsNotification(line))
	case <-time.After(2 * time.Second):
		t.Fatal("notification frame not written")
	}
}

func TestStdioCloseIdempotentAndBounded(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t)
	detector.Start()

	tr, _ := newStdioFixture(t, time.Second, nil)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	detector.Check()
}
