package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rexliu/w3abridge/pkg/ipc"
)

// caller is the daemon side of the bridge.
type caller interface {
	Call(ctx context.Context, req ipc.Request) (*ipc.Response, error)
}

// serve relays host frames from in to the daemon and writes each reply to
// out as soon as it arrives. Replies may be out of request order; hosts
// match them by ID. Frames that are oversized or not JSON at all are
// answered without an ID. It returns nil when the host closes in.
func serve(ctx context.Context, in io.Reader, out io.Writer, daemon caller, maxFrame int, logger zerolog.Logger) error {
	var (
		wmu      sync.Mutex
		inflight sync.WaitGroup
	)
	defer inflight.Wait()

	write := func(resp ipc.Response) {
		payload, err := json.Marshal(resp)
		if err != nil {
			logger.Error().Err(err).Msg("encode reply")
			return
		}
		wmu.Lock()
		defer wmu.Unlock()
		if err := ipc.WriteFrame(out, payload); err != nil {
			logger.Warn().Err(err).Str("id", resp.ID).Msg("write reply")
		}
	}

	for {
		frame, err := ipc.ReadFrameLimit(in, maxFrame)
		if errors.Is(err, ipc.ErrFrameTooLarge) {
			logger.Warn().Err(err).Msg("frame rejected")
			write(ipc.Response{Error: ipc.Errorf(ipc.CodeFrameTooLarge, err.Error())})
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var req ipc.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			// A field type mismatch still leaves the ID decoded.
			write(ipc.Response{ID: req.ID, Error: ipc.Errorf(ipc.CodeInvalidRequest, "invalid request: "+err.Error())})
			continue
		}
		if strings.HasPrefix(req.Command, ipc.ControlPrefix) {
			write(ipc.Response{ID: req.ID, Error: ipc.Errorf(ipc.CodeInvalidRequest, "unknown method "+req.Command)})
			continue
		}

		inflight.Add(1)
		go func(req ipc.Request) {
			defer inflight.Done()
			resp, err := daemon.Call(ctx, req)
			switch {
			case errors.Is(err, ipc.ErrFrameTooLarge):
				logger.Warn().Err(err).Str("command", req.Command).Msg("request too large for daemon")
				resp = &ipc.Response{ID: req.ID, Error: ipc.Errorf(ipc.CodeFrameTooLarge, err.Error())}
			case err != nil:
				logger.Warn().Err(err).Str("command", req.Command).Msg("daemon call failed")
				resp = &ipc.Response{ID: req.ID, Error: ipc.Errorf(ipc.CodeInternal, err.Error())}
			}
			write(*resp)
		}(req)
	}
}
