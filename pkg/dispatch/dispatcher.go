// Package dispatch routes named channel requests to the authentication SDK.
//
// A request moves through these states:
//
//	Received → Decoding → Routing → Executing → Completed | Failed
//
// Unknown command names stop at Received with the not-implemented signal.
// Decoding checks the payload and builds typed parameters. Routing checks
// the session precondition and picks the handler. Every request resolves
// exactly once, with a success payload, an error envelope or the
// not-implemented signal.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rexliu/w3abridge/pkg/codec"
	"github.com/rexliu/w3abridge/pkg/ids"
	"github.com/rexliu/w3abridge/pkg/sdk"
)

// Request is one inbound channel call. A nil Payload means absent.
type Request struct {
	Command string
	Payload *string
}

// Outcome is the single resolution of a Request.
type Outcome struct {
	TraceID        string
	Payload        *string
	Err            *Error
	NotImplemented bool
}

// State is a dispatch lifecycle state.
type State int

const (
	StateReceived State = iota
	StateDecoding
	StateRouting
	StateExecuting
	StateCompleted
	StateFailed
	StateNotImplemented
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateDecoding:
		return "decoding"
	case StateRouting:
		return "routing"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateNotImplemented:
		return "not_implemented"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Record summarises a resolved request for observers.
type Record struct {
	TraceID   string        `json:"traceId"`
	Command   string        `json:"command"`
	State     State         `json:"-"`
	Outcome   string        `json:"outcome"`
	Code      Code          `json:"code,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNs"`
}

const (
	OutcomeSuccess        = "success"
	OutcomeError          = "error"
	OutcomeNotImplemented = "not_implemented"
)

// Observer is told about every resolution. Observe runs on the dispatching
// goroutine after the outcome is fixed and must not block for long.
type Observer interface {
	Observe(Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Record)

func (f ObserverFunc) Observe(r Record) { f(r) }

// Dispatcher resolves requests against a Router.
type Dispatcher struct {
	router    *Router
	logger    zerolog.Logger
	observers []Observer
	now       func() time.Time
}

// New returns a Dispatcher over router.
func New(router *Router, logger zerolog.Logger, observers ...Observer) *Dispatcher {
	return &Dispatcher{
		router:    router,
		logger:    logger,
		observers: observers,
		now:       time.Now,
	}
}

// Router returns the command table.
func (d *Dispatcher) Router() *Router {
	return d.router
}

// call tracks one request from receipt to resolution.
type call struct {
	traceID  string
	command  string
	started  time.Time
	state    State
	resolved atomic.Bool
}

func (c *call) enter(s State) {
	c.state = s
}

// resolve fixes the outcome. A second resolution is a programming error.
func (c *call) resolve(out Outcome) Outcome {
	if !c.resolved.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("dispatch: request %s resolved twice", c.traceID))
	}
	out.TraceID = c.traceID
	return out
}

// Dispatch serves req on the calling goroutine and returns its outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Outcome {
	c := &call{traceID: ids.NewTraceID(), command: req.Command, started: d.now(), state: StateReceived}
	out := d.run(ctx, c, req)
	d.finish(c, out)
	return out
}

// DispatchAsync serves req on a new goroutine and calls done exactly once.
func (d *Dispatcher) DispatchAsync(ctx context.Context, req Request, done func(Outcome)) {
	if done == nil {
		panic("dispatch: nil completion callback")
	}
	go func() {
		done(d.Dispatch(ctx, req))
	}()
}

func (d *Dispatcher) run(ctx context.Context, c *call, req Request) Outcome {
	desc, ok := d.router.Route(req.Command)
	if !ok {
		c.enter(StateNotImplemented)
		return c.resolve(Outcome{NotImplemented: true})
	}

	c.enter(StateDecoding)
	params, err := decodeParams(desc, req.Payload)
	if err != nil {
		return d.fail(c, desc, err)
	}

	c.enter(StateRouting)
	client, present := d.router.Sessions().Get()
	switch {
	case desc.Session == SessionRequired && !present:
		return d.fail(c, desc, ErrNotInitialized)
	case desc.Session == SessionOptional && !present:
		c.enter(StateCompleted)
		return c.resolve(Outcome{})
	}

	c.enter(StateExecuting)
	result, err := execute(ctx, desc, client, params)
	if err != nil {
		return d.fail(c, desc, err)
	}
	payload, err := encodeResult(desc, result)
	if err != nil {
		return d.fail(c, desc, err)
	}
	c.enter(StateCompleted)
	return c.resolve(Outcome{Payload: payload})
}

func (d *Dispatcher) fail(c *call, desc *Descriptor, cause error) Outcome {
	env := Map(desc, cause)
	c.enter(StateFailed)
	d.logger.Warn().
		Str("trace", c.traceID).
		Str("command", c.command).
		Str("class", Classify(cause).String()).
		Str("code", string(env.Code)).
		Msg("dispatch failed")
	return c.resolve(Outcome{Err: env})
}

func (d *Dispatcher) finish(c *call, out Outcome) {
	rec := Record{
		TraceID:   c.traceID,
		Command:   c.command,
		State:     c.state,
		StartedAt: c.started,
		Duration:  d.now().Sub(c.started),
	}
	switch {
	case out.NotImplemented:
		rec.Outcome = OutcomeNotImplemented
	case out.Err != nil:
		rec.Outcome = OutcomeError
		rec.Code = out.Err.Code
	default:
		rec.Outcome = OutcomeSuccess
	}
	d.logger.Debug().
		Str("trace", rec.TraceID).
		Str("command", rec.Command).
		Str("state", rec.State.String()).
		Dur("duration", rec.Duration).
		Msg("dispatch resolved")
	for _, obs := range d.observers {
		obs.Observe(rec)
	}
}

func decodeParams(desc *Descriptor, payload *string) (any, error) {
	if payload == nil {
		if desc.Parameterless() {
			return nil, nil
		}
		return nil, ErrMissingPayload
	}
	if err := codec.CheckUTF8(*payload); err != nil {
		return nil, err
	}
	if desc.Parameterless() {
		return nil, nil
	}
	return desc.decode(*payload)
}

func execute(ctx context.Context, desc *Descriptor, client sdk.Client, params any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	if desc.sync != nil {
		return desc.sync(client, params)
	}
	return desc.suspend(ctx, client, params)
}

func encodeResult(desc *Descriptor, result any) (*string, error) {
	switch desc.Result {
	case ResultRaw:
		s, ok := result.(string)
		if !ok {
			return nil, fmt.Errorf("result of %s is %T, want string", desc.Name, result)
		}
		return &s, nil
	case ResultJSON:
		s, err := codec.Encode(result)
		if err != nil {
			return nil, err
		}
		return &s, nil
	default:
		return nil, nil
	}
}
