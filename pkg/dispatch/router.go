package dispatch

import (
	"context"
	"sort"

	"github.com/rexliu/w3abridge/pkg/codec"
	"github.com/rexliu/w3abridge/pkg/sdk"
	"github.com/rexliu/w3abridge/pkg/session"
)

// SessionPolicy states whether a command needs an initialised session.
type SessionPolicy int

const (
	SessionNone SessionPolicy = iota
	SessionRequired
	// SessionOptional commands resolve with an empty success when no
	// session exists, without reaching the SDK.
	SessionOptional
)

func (p SessionPolicy) String() string {
	switch p {
	case SessionRequired:
		return "required"
	case SessionOptional:
		return "optional"
	default:
		return "none"
	}
}

// ResultKind states how a handler result is encoded.
type ResultKind int

const (
	ResultNone ResultKind = iota // null payload
	ResultRaw                    // string result sent as is
	ResultJSON                   // JSON-encoded result
)

func (k ResultKind) String() string {
	switch k {
	case ResultRaw:
		return "raw"
	case ResultJSON:
		return "json"
	default:
		return "none"
	}
}

// SyncFunc reads session state without blocking.
type SyncFunc func(c sdk.Client, params any) (any, error)

// SuspendFunc may block on the SDK until ctx is done or the call returns.
type SuspendFunc func(ctx context.Context, c sdk.Client, params any) (any, error)

// Descriptor is the static record for one command. Exactly one of the
// sync and suspend handlers is set.
type Descriptor struct {
	Name           string
	Session        SessionPolicy
	Schema         string // parameter type name, empty when parameterless
	Result         ResultKind
	Failure        Code
	InvalidMessage string
	FailureMessage string

	decode  func(payload string) (any, error)
	sync    SyncFunc
	suspend SuspendFunc
}

// Parameterless reports whether the command accepts an absent payload.
func (d *Descriptor) Parameterless() bool {
	return d.decode == nil
}

// Suspends reports whether the handler may block on the SDK.
func (d *Descriptor) Suspends() bool {
	return d.suspend != nil
}

// Router maps command names to descriptors. The table is fixed at
// construction.
type Router struct {
	sessions session.Holder
	factory  sdk.Factory
	table    map[string]*Descriptor
}

// NewRouter builds the command table around the given session holder and
// SDK factory. It panics on a malformed table.
func NewRouter(sessions session.Holder, factory sdk.Factory) *Router {
	if sessions == nil {
		panic("dispatch: nil session holder")
	}
	if factory == nil {
		panic("dispatch: nil sdk factory")
	}
	r := &Router{sessions: sessions, factory: factory}
	r.table = make(map[string]*Descriptor)
	for _, desc := range r.commands() {
		if _, dup := r.table[desc.Name]; dup {
			panic("dispatch: duplicate command " + desc.Name)
		}
		if (desc.sync == nil) == (desc.suspend == nil) {
			panic("dispatch: command " + desc.Name + " needs exactly one handler")
		}
		r.table[desc.Name] = desc
	}
	return r
}

// Route looks up a command by exact name.
func (r *Router) Route(name string) (*Descriptor, bool) {
	desc, ok := r.table[name]
	return desc, ok
}

// Sessions returns the holder the router was built with.
func (r *Router) Sessions() session.Holder {
	return r.sessions
}

// Commands returns every descriptor ordered by name.
func (r *Router) Commands() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.table))
	for _, desc := range r.table {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

func decoder[P any]() func(string) (any, error) {
	return func(payload string) (any, error) {
		p, err := codec.Decode[P](payload)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
