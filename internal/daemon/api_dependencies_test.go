package daemon

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcpshield/internal/api"
	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/auth"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
)

func TestDaemon_APIDependencies_Validate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{servers: []testServer{{name: "test-server"}}})
	authenticator, err := auth.NewAuthenticator(auth.NoneProvider{}, nil, nil)
	require.NoError(t, err)

	valid := func() APIDependencies {
		return APIDependencies{
			Addr:          "localhost:8090",
			Gateway:       h.gateway,
			Handlers:      h.handlers(),
			Authenticator: authenticator,
			Audit:         audit.Discard{},
			Metrics:       metrics.New(),
			Logger:        hclog.NewNullLogger(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(d *APIDependencies)
		wantErr string
	}{
		{
			name:   "valid dependencies",
			mutate: func(*APIDependencies) {},
		},
		{
			name:    "nil logger",
			mutate:  func(d *APIDependencies) { d.Logger = nil },
			wantErr: "logger cannot be nil",
		},
		{
			name:    "nil gateway",
			mutate:  func(d *APIDependencies) { d.Gateway = nil },
			wantErr: "gateway cannot be nil",
		},
		{
			name:    "typed nil gateway",
			mutate:  func(d *APIDependencies) { d.Gateway = (*Gateway)(nil) },
			wantErr: "gateway cannot be nil",
		},
		{
			name:    "missing REST handler",
			mutate:  func(d *APIDependencies) { d.Handlers = api.Handlers{} },
			wantErr: "cannot be nil",
		},
		{
			name:    "nil authenticator",
			mutate:  func(d *APIDependencies) { d.Authenticator = nil },
			wantErr: "authenticator cannot be nil",
		},
		{
			name:    "nil audit sink",
			mutate:  func(d *APIDependencies) { d.Audit = nil },
			wantErr: "audit sink cannot be nil",
		},
		{
			name:    "nil metrics",
			mutate:  func(d *APIDependencies) { d.Metrics = nil },
			wantErr: "metrics recorder cannot be nil",
		},
		{
			name:    "invalid address",
			mutate:  func(d *APIDependencies) { d.Addr = "invalid-address" },
			wantErr: "invalid API address 'invalid-address': invalid address format: address invalid-address: missing port in address",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			deps := valid()
			tc.mutate(&deps)
			err := deps.Validate()

			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				require.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}

func TestNewAPIDependencies(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{})
	authenticator, err := auth.NewAuthenticator(auth.NoneProvider{}, nil, nil)
	require.NoError(t, err)

	deps, err := NewAPIDependencies(hclog.NewNullLogger(), "0.0.0.0:8090", h.gateway, h.handlers(), authenticator, audit.Discard{}, metrics.New())
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8090", deps.Addr)

	_, err = NewAPIDependencies(hclog.NewNullLogger(), "0.0.0.0:8090", nil, h.handlers(), authenticator, audit.Discard{}, metrics.New())
	require.EqualError(t, err, "gateway cannot be nil")
}
