package server

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/transport"
	"github.com/mozilla-ai/mcpshield/internal/transport/transporttest"
)

// fakeConnector hands out a fresh fake transport per connect and remembers them by server name.
type fakeConnector struct {
	mu    sync.Mutex
	fakes map[string][]*transporttest.Fake
	err   error
	delay time.Duration
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{fakes: make(map[string][]*transporttest.Fake)}
}

func (c *fakeConnector) Connect(_ context.Context, entry config.ServerEntry) (transport.Transport, error) {
	time.Sleep(c.delay)
	if c.err != nil {
		return nil, c.err
	}

	f := transporttest.New(nil)
	c.mu.Lock()
	c.fakes[entry.Name] = append(c.fakes[entry.Name], f)
	c.mu.Unlock()

	return f, nil
}

func (c *fakeConnector) last(name string) *transporttest.Fake {
	c.mu.Lock()
	defer c.mu.Unlock()

	fs := c.fakes[name]
	return fs[len(fs)-1]
}

func newTestManager(t *testing.T, c Connector) *Manager {
	t.Helper()

	m, err := NewManager(hclog.NewNullLogger(), c)
	require.NoError(t, err)
	return m
}

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewManager(nil, newFakeConnector())
	require.Error(t, err)

	_, err = NewManager(hclog.NewNullLogger(), nil)
	require.Error(t, err)
}

func TestManager_AddSendRemove(t *testing.T) {
	t.Parallel()

	c := newFakeConnector()
	m := newTestManager(t, c)
	ctx := context.Background()

	require.NoError(t, m.AddServer(ctx, config.ServerEntry{Name: "time", Command: "uvx", Tags: []string{"tools"}}))

	req, err := jsonrpc.NewRequest(jsonrpc.NewNumberID(7), "tools/list", nil)
	require.NoError(t, err)

	resp, err := m.SendRequest(ctx, "time", req)
	require.NoError(t, err)
	require.Equal(t, "7", resp.ID.String())
	require.Equal(t, []string{"tools/list"}, c.last("time").Methods())

	require.Equal(t, []string{"time"}, m.ListServers())
	infos := m.Infos()
	require.Len(t, infos, 1)
	require.True(t, infos[0].Connected)
	require.Equal(t, "stdio", infos[0].Transport)

	require.NoError(t, m.RemoveServer("time"))
	require.True(t, c.last("time").Closed())
	require.Empty(t, m.ListServers())

	_, err = m.SendRequest(ctx, "time", req)
	require.ErrorIs(t, err, errors.ErrServerNotFound)
	require.ErrorIs(t, m.RemoveServer("time"), errors.ErrServerNotFound)
}

func TestManager_AddExistingFails(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, newFakeConnector())
	entry := config.ServerEntry{Name: "dup", Command: "x"}

	require.NoError(t, m.AddServer(context.Background(), entry))

	err := m.AddServer(context.Background(), entry)
	require.ErrorIs(t, err, errors.ErrInvalidRequest)
	require.ErrorContains(t, err, "already exists")
}

func TestManager_ConcurrentAddOfSameName(t *testing.T) {
	t.Parallel()

	c := newFakeConnector()
	c.delay = 20 * time.Millisecond
	m := newTestManager(t, c)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.AddServer(context.Background(), config.ServerEntry{Name: "same", Command: "x"})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded)
}

func TestManager_AddFailurePropagates(t *testing.T) {
	t.Parallel()

	c := newFakeConnector()
	c.err = errors.Sandbox("creating namespaces")
	m := newTestManager(t, c)

	err := m.AddServer(context.Background(), config.ServerEntry{Name: "bad", Command: "x"})
	require.ErrorIs(t, err, errors.ErrSandbox)
	require.Empty(t, m.ListServers())

	// The name is free again after a failed add.
	c.err = nil
	require.NoError(t, m.AddServer(context.Background(), config.ServerEntry{Name: "bad", Command: "x"}))
}

func TestManager_ServersByTags(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, newFakeConnector())
	ctx := context.Background()

	require.NoError(t, m.AddServer(ctx, config.ServerEntry{Name: "a", Command: "x", Tags: []string{"tools", "fs"}}))
	require.NoError(t, m.AddServer(ctx, config.ServerEntry{Name: "b", Command: "x", Tags: []string{"resources"}}))
	require.NoError(t, m.AddServer(ctx, config.ServerEntry{Name: "c", Command: "x", Tags: []string{"fs"}}))

	tests := []struct {
		tags []string
		want []string
	}{
		{tags: []string{"fs"}, want: []string{"a", "c"}},
		{tags: []string{"resources", "tools"}, want: []string{"a", "b"}},
		{tags: []string{"none"}, want: nil},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.tags), func(t *testing.T) {
			require.Equal(t, tc.want, m.ServersByTags(tc.tags))
		})
	}
}

func TestManager_StopAll(t *testing.T) {
	t.Parallel()

	c := newFakeConnector()
	m := newTestManager(t, c)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, m.AddServer(ctx, config.ServerEntry{Name: name, Command: "x"}))
	}

	require.NoError(t, m.StopAll(ctx))
	require.Empty(t, m.ListServers())
	for _, name := range []string{"a", "b", "c"} {
		require.Equal(t, 1, c.last(name).CloseCount())
	}
}

func TestManagedServer_StoppedRejectsRequests(t *testing.T) {
	t.Parallel()

	f := transporttest.New(nil)
	s := NewManagedServer(config.ServerEntry{Name: "x"}, f)

	require.True(t, s.IsConnected())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	require.Equal(t, 1, f.CloseCount())
	require.False(t, s.IsConnected())

	req, _ := jsonrpc.NewRequest(jsonrpc.NewNumberID(1), "ping", nil)
	_, err := s.SendRequest(context.Background(), req)
	require.ErrorIs(t, err, errors.ErrTransport)
}

func TestDefaultConnector_RejectsUnknownTransport(t *testing.T) {
	t.Parallel()

	c, err := NewDefaultConnector(hclog.NewNullLogger(), false)
	require.NoError(t, err)

	_, err = c.Connect(context.Background(), config.ServerEntry{
		Name:      "x",
		Transport: &config.TransportEntry{Type: "carrier-pigeon"},
	})
	require.ErrorIs(t, err, errors.ErrConfig)
}
