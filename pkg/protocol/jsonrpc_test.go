package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(7, MethodListTools, struct{}{})
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.0", decoded["jsonrpc"])
	assert.Equal(t, float64(7), decoded["id"])
	assert.Equal(t, MethodListTools, decoded["method"])
}

func TestNewRequestNilParams(t *testing.T) {
	req, err := NewRequest(1, MethodPing, nil)
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "params")
}

func TestNewNotification(t *testing.T) {
	notif, err := NewNotification(MethodInitialized, struct{}{})
	require.NoError(t, err)

	data, err := json.Marshal(notif)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"id"`)
	assert.Contains(t, string(data), MethodInitialized)
}

func TestIsResponse(t *testing.T) {
	assert.True(t, IsResponse([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)))
	assert.True(t, IsResponse([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`)))
	assert.False(t, IsResponse([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	assert.False(t, IsResponse([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	assert.False(t, IsResponse([]byte(`not json`)))
}

func TestIsNotification(t *testing.T) {
	assert.True(t, IsNotification([]byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`)))
	assert.False(t, IsNotification([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	assert.False(t, IsNotification([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)))
}

func TestErrorImplementsError(t *testing.T) {
	err := &Error{Code: MethodNotFound, Message: "no such method"}
	assert.Contains(t, err.Error(), "-32601")
	assert.Contains(t, err.Error(), "no such method")
}

func TestResponseDecodesRawResult(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal(
		[]byte(`{"jsonrpc":"2.0","id":3,"result":{"tools":[]}}`), &resp))
	assert.Equal(t, int64(3), resp.ID)
	assert.Nil(t, resp.Error)

	var result ListToolsResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Empty(t, result.Tools)
}
