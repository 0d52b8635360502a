package jsonrpc

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestID_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected ID
		wantErr  bool
	}{
		{name: "integer", input: `7`, expected: NewNumberID(7)},
		{name: "negative integer", input: `-3`, expected: NewNumberID(-3)},
		{name: "string", input: `"abc-1"`, expected: NewStringID("abc-1")},
		{name: "float rejected", input: `1.5`, wantErr: true},
		{name: "object rejected", input: `{}`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var id ID
			err := json.Unmarshal([]byte(tc.input), &id)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, id)

			out, err := json.Marshal(id)
			require.NoError(t, err)
			require.JSONEq(t, tc.input, string(out))
		})
	}
}

func TestID_MapKey(t *testing.T) {
	t.Parallel()

	m := map[ID]string{
		NewNumberID(1):   "number",
		NewStringID("1"): "string",
	}

	require.Len(t, m, 2)
	require.Equal(t, "number", m[NewNumberID(1)])
	require.Equal(t, "string", m[NewStringID("1")])
}

func TestRequest_Notification(t *testing.T) {
	t.Parallel()

	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`), &req))
	require.True(t, req.IsNotification())
	require.NoError(t, req.Validate())

	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`), &req))
	require.False(t, req.IsNotification())

	out, err := json.Marshal(&Request{JSONRPC: Version, Method: "ping"})
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","method":"ping"}`, string(out))
}

func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	require.Error(t, (&Request{JSONRPC: "1.0", Method: "ping"}).Validate())
	require.Error(t, (&Request{JSONRPC: Version}).Validate())
}

func TestRequest_ParamsMap(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(NewNumberID(2), "tools/call", map[string]any{"name": "delete_file"})
	require.NoError(t, err)

	params, err := req.ParamsMap()
	require.NoError(t, err)
	require.Equal(t, "delete_file", params["name"])

	empty, err := (&Request{JSONRPC: Version, Method: "x"}).ParamsMap()
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = (&Request{JSONRPC: Version, Method: "x", Params: json.RawMessage(`[1,2]`)}).ParamsMap()
	require.Error(t, err)
}

func TestResponse_NullID(t *testing.T) {
	t.Parallel()

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse"}}`), &resp))
	require.Nil(t, resp.ID)
	require.True(t, resp.IsError())
	require.Equal(t, CodeParseError, resp.Error.Code)
}

func TestResponse_DecodeResult(t *testing.T) {
	t.Parallel()

	id := NewNumberID(1)
	resp, err := NewResult(&id, map[string]any{"ok": true})
	require.NoError(t, err)

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, resp.DecodeResult(&out))
	require.True(t, out.OK)

	errResp := NewErrorResponse(&id, CodeAccessDenied, "denied")
	require.ErrorContains(t, errResp.DecodeResult(&out), "denied")
}

func TestGenerator_Numeric(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator()
	require.NoError(t, err)

	require.Equal(t, NewNumberID(1), g.Next())
	require.Equal(t, NewNumberID(2), g.Next())
	require.Equal(t, int64(3), g.Current())

	g.Reset()
	require.Equal(t, NewNumberID(1), g.Next())
}

func TestGenerator_Prefix(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(WithPrefix("proxy"))
	require.NoError(t, err)
	require.Equal(t, NewStringID("proxy-1"), g.Next())

	_, err = NewGenerator(WithPrefix("  "))
	require.Error(t, err)
}

func TestGenerator_UUID(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(WithUUID(), WithPrefix("p"))
	require.NoError(t, err)

	a, b := g.Next(), g.Next()
	require.True(t, a.IsString())
	require.NotEqual(t, a, b)
	require.Len(t, a.String(), len("p-")+36)
}

func TestGenerator_ConcurrentUnique(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator()
	require.NoError(t, err)

	const workers, perWorker = 8, 200
	var mu sync.Mutex
	seen := make(map[ID]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}
