package daemon

// GatewayOptions contains optional configuration for the Gateway.
type GatewayOptions struct {
	// ScopeValidation applies the session's scopes to requests and tools/list responses.
	ScopeValidation bool

	// BlockSecrets rejects tool calls whose arguments contain a detected secret.
	// Without it findings are only audited.
	BlockSecrets bool
}

// GatewayOption defines a functional option for configuring GatewayOptions.
type GatewayOption func(*GatewayOptions) error

// NewGatewayOptions creates GatewayOptions with optional configurations applied.
// Scope validation is on by default.
func NewGatewayOptions(opts ...GatewayOption) (GatewayOptions, error) {
	options := GatewayOptions{
		ScopeValidation: true,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return GatewayOptions{}, err
		}
	}

	return options, nil
}

// WithScopeValidation toggles scope checks.
func WithScopeValidation(enabled bool) GatewayOption {
	return func(o *GatewayOptions) error {
		o.ScopeValidation = enabled
		return nil
	}
}

// WithSecretBlocking toggles rejecting tool calls that carry secrets.
func WithSecretBlocking(enabled bool) GatewayOption {
	return func(o *GatewayOptions) error {
		o.BlockSecrets = enabled
		return nil
	}
}
