// Package transport abstracts the byte link between the ground station and
// a device. Implementations deliver complete frames (one frame per
// receive); framing is their job, decoding is the codec's. The pipeline
// never inspects transport internals.
package transport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c360/groundstream/errors"
)

// Capabilities describes what a transport implementation can do.
// Construction code queries this descriptor instead of probing methods.
type Capabilities struct {
	// RequiresAddress is set when the transport needs a listen or dial
	// address to start.
	RequiresAddress bool
	// SupportsInjection is set when frames can be fed in-process for
	// tests and debugging.
	SupportsInjection bool
	// SupportsSimulation is set when the transport can generate synthetic
	// traffic on its own.
	SupportsSimulation bool
	// Reliable is set when the link neither drops nor reorders frames.
	Reliable bool
}

// Transport is a bidirectional frame link. Receive blocks until a frame
// arrives, the context is cancelled, or the transport is closed, in which
// case it returns errors.ErrTransportClosed.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, frame []byte) error
	Name() string
	Capabilities() Capabilities
}

// Config carries the transport settings resolved from configuration.
// Fields irrelevant to a given kind are ignored by its factory.
type Config struct {
	// Address is the listen address for network transports.
	Address string
	// Remote is the command destination for network transports. When
	// empty, commands go to the most recently seen peer.
	Remote string
	// ReceiveBuffer bounds the frames queued between the link and
	// Receive. Zero selects the implementation default.
	ReceiveBuffer int
	// Device is the device identifier stamped on generated frames.
	Device uint8
	// Generate enables synthetic traffic on transports that support
	// simulation.
	Generate bool
	// GenerateInterval is the period between generated frames.
	GenerateInterval time.Duration
	// ArmCode and DisarmCode are the profile's wire codes for the arm
	// and disarm commands, used by transports that acknowledge them.
	ArmCode uint8
	// DisarmCode is the wire code for disarm.
	DisarmCode uint8
}

// Factory builds a transport from resolved configuration.
type Factory func(cfg Config) (Transport, error)

// Registry maps transport kind names to factories. The set is established
// at wiring time and validated then; asking for an unknown kind is a
// configuration error.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a kind name. Duplicate names are rejected.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" || f == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "TransportRegistry", "Register", "validate kind and factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.factories[kind]; dup {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "TransportRegistry", "Register", "register duplicate kind "+kind)
	}
	r.factories[kind] = f
	return nil
}

// Create builds a transport of the given kind.
func (r *Registry) Create(kind string, cfg Config) (Transport, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "TransportRegistry", "Create", "resolve transport kind "+kind)
	}
	return f(cfg)
}

// Kinds lists the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
