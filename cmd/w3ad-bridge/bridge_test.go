package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/w3abridge/pkg/ipc"
)

// slowFirst answers "login" after release is closed and everything else at
// once, so replies come back out of order.
type slowFirst struct {
	release chan struct{}
	mu      sync.Mutex
	seen    []string
}

func (s *slowFirst) Call(ctx context.Context, req ipc.Request) (*ipc.Response, error) {
	s.mu.Lock()
	s.seen = append(s.seen, req.Command)
	s.mu.Unlock()
	switch req.Command {
	case "login":
		<-s.release
		result := `{"privKey":"1111"}`
		return &ipc.Response{ID: req.ID, OK: true, Result: &result}, nil
	case "explode":
		return nil, errors.New("connection reset")
	default:
		return &ipc.Response{ID: req.ID, OK: true}, nil
	}
}

func frame(t *testing.T, buf *bytes.Buffer, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, ipc.WriteFrame(buf, payload))
}

func readReplies(t *testing.T, out *bytes.Buffer) []ipc.Response {
	t.Helper()
	var replies []ipc.Response
	for out.Len() > 0 {
		raw, err := ipc.ReadFrame(out)
		require.NoError(t, err)
		var resp ipc.Response
		require.NoError(t, json.Unmarshal(raw, &resp))
		replies = append(replies, resp)
	}
	return replies
}

// syncBuffer guards a bytes.Buffer shared between reply goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func TestServeRelaysAndRejects(t *testing.T) {
	var in bytes.Buffer
	frame(t, &in, ipc.Request{ID: "1", Command: "login", Payload: strPtr(`{"loginProvider":"google"}`)})
	frame(t, &in, ipc.Request{ID: "2", Command: "getPrivKey"})
	frame(t, &in, ipc.Request{ID: "3", Command: "daemon.journal"})
	frame(t, &in, ipc.Request{ID: "4", Command: "explode"})
	require.NoError(t, ipc.WriteFrame(&in, []byte("{")))
	require.NoError(t, ipc.WriteFrame(&in, bytes.Repeat([]byte("x"), 300)))

	daemon := &slowFirst{release: make(chan struct{})}
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), &in, out, daemon, 256, zerolog.Nop()) }()

	require.Eventually(t, func() bool {
		out.mu.Lock()
		defer out.mu.Unlock()
		return bytes.Count(out.buf.Bytes(), []byte(`"error"`)) >= 4 && bytes.Contains(out.buf.Bytes(), []byte(`"id":"2"`))
	}, 5*time.Second, 10*time.Millisecond)
	close(daemon.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}

	replies := readReplies(t, &out.buf)
	require.Len(t, replies, 6)
	last := replies[len(replies)-1]
	assert.Equal(t, "1", last.ID)
	require.NotNil(t, last.Result)
	assert.Equal(t, `{"privKey":"1111"}`, *last.Result)

	byID := map[string]ipc.Response{}
	var codes []string
	for _, r := range replies {
		if r.ID != "" {
			byID[r.ID] = r
		}
		if r.Error != nil {
			codes = append(codes, r.Error.Code)
		}
	}
	assert.True(t, byID["2"].OK)
	assert.Equal(t, ipc.CodeInvalidRequest, byID["3"].Error.Code)
	assert.Equal(t, ipc.CodeInternal, byID["4"].Error.Code)
	assert.ElementsMatch(t, []string{ipc.CodeInvalidRequest, ipc.CodeInternal, ipc.CodeInvalidRequest, ipc.CodeFrameTooLarge}, codes)
	assert.NotContains(t, daemon.seen, "daemon.journal")
}

func strPtr(s string) *string { return &s }

type callerFunc func(context.Context, ipc.Request) (*ipc.Response, error)

func (f callerFunc) Call(ctx context.Context, req ipc.Request) (*ipc.Response, error) {
	return f(ctx, req)
}

func TestServeKeepsHostIDs(t *testing.T) {
	var in bytes.Buffer
	require.NoError(t, ipc.WriteFrame(&in, []byte(`{"id":"7","command":5}`)))
	frame(t, &in, ipc.Request{ID: "8", Command: "login", Payload: strPtr(`{"loginProvider":"<google>"}`)})

	daemon := callerFunc(func(_ context.Context, req ipc.Request) (*ipc.Response, error) {
		return nil, fmt.Errorf("%w: 300 > 256 bytes", ipc.ErrFrameTooLarge)
	})
	var out bytes.Buffer
	require.NoError(t, serve(context.Background(), &in, &out, daemon, 256, zerolog.Nop()))

	replies := readReplies(t, &out)
	require.Len(t, replies, 2)
	byID := map[string]ipc.Response{}
	for _, r := range replies {
		byID[r.ID] = r
	}
	require.NotNil(t, byID["7"].Error)
	assert.Equal(t, ipc.CodeInvalidRequest, byID["7"].Error.Code)
	require.NotNil(t, byID["8"].Error)
	assert.Equal(t, ipc.CodeFrameTooLarge, byID["8"].Error.Code)
}
