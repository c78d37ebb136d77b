package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rexliu/w3abridge/pkg/ipc"
	"github.com/rexliu/w3abridge/pkg/storage/sqlite"
)

func (d *daemon) registerHandlers(srv *ipc.Server) {
	srv.Register("daemon.ping", d.handlePing)
	srv.Register("daemon.status", d.handleStatus)
	srv.Register("daemon.commands", d.handleCommands)
	srv.Register("daemon.journal", d.handleJournal)
	srv.RegisterStream("daemon.subscribe", d.handleSubscribe)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (d *daemon) handlePing(context.Context, json.RawMessage) (any, *ipc.Error) {
	now := nowMillis()
	d.logger.Debug().Int64("now", now).Msg("received ping")
	return map[string]any{"now": now, "version": version}, nil
}

type statusResult struct {
	Profile     string `json:"profile"`
	Version     string `json:"version"`
	UptimeMs    int64  `json:"uptimeMs"`
	Initialized bool   `json:"initialized"`
	Commands    int    `json:"commands"`
	Subscribers int    `json:"subscribers"`
	DBPath      string `json:"dbPath"`
}

func (d *daemon) handleStatus(context.Context, json.RawMessage) (any, *ipc.Error) {
	_, initialized := d.sessions.Get()
	return statusResult{
		Profile:     d.cfg.ProfileName,
		Version:     version,
		UptimeMs:    nowMillis() - d.started,
		Initialized: initialized,
		Commands:    len(d.router.Commands()),
		Subscribers: d.events.subscribers(),
		DBPath:      d.store.Path(),
	}, nil
}

type commandInfo struct {
	Name     string `json:"name"`
	Session  string `json:"session"`
	Schema   string `json:"schema,omitempty"`
	Result   string `json:"result"`
	Failure  string `json:"failure"`
	Suspends bool   `json:"suspends"`
}

func (d *daemon) handleCommands(context.Context, json.RawMessage) (any, *ipc.Error) {
	descs := d.router.Commands()
	out := make([]commandInfo, 0, len(descs))
	for _, desc := range descs {
		out = append(out, commandInfo{
			Name:     desc.Name,
			Session:  desc.Session.String(),
			Schema:   desc.Schema,
			Result:   desc.Result.String(),
			Failure:  string(desc.Failure),
			Suspends: desc.Suspends(),
		})
	}
	return map[string]any{"commands": out}, nil
}

type journalParams struct {
	Command string `json:"command"`
	Outcome string `json:"outcome"`
	Limit   int    `json:"limit"`
}

func (d *daemon) handleJournal(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req journalParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, ipc.Errorf(ipc.CodeInvalidRequest, "invalid params")
		}
	}
	records, err := d.store.ListDispatches(ctx, sqlite.JournalFilter{
		Command: req.Command,
		Outcome: req.Outcome,
		Limit:   req.Limit,
	})
	if err != nil {
		return nil, ipc.Errorf("STORAGE_ERROR", err.Error())
	}
	return map[string]any{"records": records}, nil
}

func (d *daemon) handleSubscribe(ctx context.Context, _ json.RawMessage) (<-chan []byte, *ipc.Error) {
	if d.events == nil {
		return nil, ipc.Errorf(ipc.CodeInternal, "event hub unavailable")
	}
	client := d.events.register()
	go func() {
		<-ctx.Done()
		d.events.unregister(client)
	}()
	return client.send, nil
}
