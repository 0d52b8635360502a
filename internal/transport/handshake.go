package transport

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

// ProtocolVersion is the MCP protocol revision offered during the handshake.
const ProtocolVersion = "2024-11-05"

// MethodInitialized is the notification sent once the initialize response has been received.
const MethodInitialized = "notifications/initialized"

// initializeParams builds the params of the initialize request.
func initializeParams(opts Options) mcp.InitializeParams {
	return mcp.InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      mcp.Implementation{Name: opts.ClientName, Version: opts.ClientVersion},
	}
}

// handshake performs the MCP initialize exchange over t.
func handshake(ctx context.Context, t Transport, opts Options) (*mcp.InitializeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.InitTimeout)
	defer cancel()

	req, err := jsonrpc.NewRequest(opts.IDs.Next(), string(mcp.MethodInitialize), initializeParams(opts))
	if err != nil {
		return nil, err
	}

	resp, err := t.SendRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var res mcp.InitializeResult
	if err := resp.DecodeResult(&res); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	n, err := jsonrpc.NewNotification(MethodInitialized, nil)
	if err != nil {
		return nil, err
	}
	if err := t.SendNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	return &res, nil
}
