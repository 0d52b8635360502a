package jsonrpc

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces request IDs that are unique for the lifetime of the generator.
// NewGenerator should be used to create instances of Generator.
type Generator struct {
	counter atomic.Int64
	prefix  string
	useUUID bool
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator) error

// NewGenerator creates a Generator whose numeric counter starts at 1.
func NewGenerator(opts ...GeneratorOption) (*Generator, error) {
	g := &Generator{}
	g.counter.Store(1)

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// WithUUID makes the generator produce random UUID string IDs.
func WithUUID() GeneratorOption {
	return func(g *Generator) error {
		g.useUUID = true
		return nil
	}
}

// WithPrefix makes the generator produce string IDs of the form "<prefix>-<n>" (or "<prefix>-<uuid>").
func WithPrefix(prefix string) GeneratorOption {
	return func(g *Generator) error {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return fmt.Errorf("id prefix cannot be empty")
		}
		g.prefix = prefix
		return nil
	}
}

// Next returns the next ID.
func (g *Generator) Next() ID {
	if g.useUUID {
		u := uuid.NewString()
		if g.prefix != "" {
			return NewStringID(g.prefix + "-" + u)
		}
		return NewStringID(u)
	}

	n := g.counter.Add(1) - 1
	if g.prefix != "" {
		return NewStringID(fmt.Sprintf("%s-%d", g.prefix, n))
	}

	return NewNumberID(n)
}

// Current returns the value the next numeric ID will take.
func (g *Generator) Current() int64 {
	return g.counter.Load()
}

// Reset restarts the numeric counter at 1.
func (g *Generator) Reset() {
	g.counter.Store(1)
}
