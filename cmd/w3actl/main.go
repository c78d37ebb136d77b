package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rexliu/w3abridge/pkg/config"
	"github.com/rexliu/w3abridge/pkg/ipc"
	"github.com/rexliu/w3abridge/pkg/storage/sqlite"
)

var version = "dev"

const callTimeout = 5 * time.Minute

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}
	cmds := map[string]func([]string, io.Writer) error{
		"init":     initCommand,
		"ping":     pingCommand,
		"status":   statusCommand,
		"call":     callCommand,
		"commands": commandsCommand,
		"journal":  journalCommand,
		"watch":    watchCommand,
		"diag":     diagCommand,
	}
	name := os.Args[1]
	if name == "version" {
		fmt.Printf("w3actl %s\n", version)
		return
	}
	run, ok := cmds[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", name)
		usage(os.Stderr)
		os.Exit(1)
	}
	if err := run(os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s error: %v\n", name, err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: w3actl <command> [options]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init      Initialize a local profile (writes config.toml)")
	fmt.Fprintln(w, "  ping      Call the daemon ping endpoint via IPC")
	fmt.Fprintln(w, "  status    Show daemon and session status")
	fmt.Fprintln(w, "  call      Send a channel command, e.g. call -payload '{...}' login")
	fmt.Fprintln(w, "  commands  List the command table")
	fmt.Fprintln(w, "  journal   List recent dispatches")
	fmt.Fprintln(w, "  watch     Stream dispatch events from the daemon")
	fmt.Fprintln(w, "  diag      Print profile configuration paths")
	fmt.Fprintln(w, "  version   Print CLI version")
}

type connFlags struct {
	profile *string
	socket  *string
}

func addConnFlags(fs *flag.FlagSet) connFlags {
	return connFlags{
		profile: fs.String("profile", "./_dev_profile", "Profile directory"),
		socket:  fs.String("socket", "", "Override socket path"),
	}
}

func initCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	profilePath := fs.String("profile", "./_dev_profile", "Profile directory")
	name := fs.String("name", "dev", "Profile name")
	force := fs.Bool("force", false, "Overwrite existing config if present")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := os.MkdirAll(*profilePath, 0o700); err != nil {
		return err
	}
	configPath := filepath.Join(*profilePath, config.FileName)
	if _, err := os.Stat(configPath); err == nil && !*force {
		return fmt.Errorf("config already exists at %s (use -force to overwrite)", configPath)
	}
	cfg := config.DefaultProfile(*name)
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "initialized profile %s at %s\n", cfg.ProfileName, *profilePath)
	return nil
}

func pingCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	conn := addConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withClient(conn, func(ctx context.Context, c *ipc.Client) error {
		var data struct {
			Now     int64  `json:"now"`
			Version string `json:"version"`
		}
		if err := c.Control(ctx, "daemon.ping", nil, &data); err != nil {
			return err
		}
		fmt.Fprintf(out, "daemon responded: now=%d version=%s\n", data.Now, data.Version)
		return nil
	})
}

func statusCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	conn := addConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withClient(conn, func(ctx context.Context, c *ipc.Client) error {
		var data json.RawMessage
		if err := c.Control(ctx, "daemon.status", nil, &data); err != nil {
			return err
		}
		return printJSON(out, data)
	})
}

func callCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	conn := addConnFlags(fs)
	payload := fs.String("payload", "", "Payload JSON text")
	payloadFile := fs.String("payload-file", "", "Read the payload from a file (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one command name")
	}
	command := fs.Arg(0)

	var text *string
	switch {
	case *payload != "" && *payloadFile != "":
		return errors.New("use either -payload or -payload-file")
	case *payload != "":
		text = payload
	case *payloadFile != "":
		data, err := readPayloadFile(*payloadFile)
		if err != nil {
			return err
		}
		s := string(data)
		text = &s
	}

	return withClient(conn, func(ctx context.Context, c *ipc.Client) error {
		resp, err := c.Command(ctx, command, text)
		if err != nil {
			return err
		}
		return printOutcome(out, command, resp)
	})
}

func readPayloadFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// printOutcome writes a success payload to out. Failures come back as errors
// so the exit status reflects them.
func printOutcome(out io.Writer, command string, resp *ipc.Response) error {
	switch {
	case resp.NotImplemented:
		return fmt.Errorf("%s is not implemented (trace %s)", command, resp.TraceID)
	case resp.Error != nil:
		return fmt.Errorf("%w (trace %s)", resp.Error, resp.TraceID)
	case resp.Result == nil:
		fmt.Fprintln(out, "ok")
		return nil
	}
	result := *resp.Result
	if len(result) > 0 && (result[0] == '{' || result[0] == '[') && json.Valid([]byte(result)) {
		return printJSON(out, json.RawMessage(result))
	}
	fmt.Fprintln(out, result)
	return nil
}

func commandsCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("commands", flag.ContinueOnError)
	conn := addConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withClient(conn, func(ctx context.Context, c *ipc.Client) error {
		var data struct {
			Commands []struct {
				Name     string `json:"name"`
				Session  string `json:"session"`
				Schema   string `json:"schema"`
				Result   string `json:"result"`
				Failure  string `json:"failure"`
				Suspends bool   `json:"suspends"`
			} `json:"commands"`
		}
		if err := c.Control(ctx, "daemon.commands", nil, &data); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSESSION\tPARAMS\tRESULT\tFAILURE\tSUSPENDS")
		for _, cmd := range data.Commands {
			schema := cmd.Schema
			if schema == "" {
				schema = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", cmd.Name, cmd.Session, schema, cmd.Result, cmd.Failure, cmd.Suspends)
		}
		return tw.Flush()
	})
}

func journalCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	conn := addConnFlags(fs)
	command := fs.String("command", "", "Only this command")
	outcome := fs.String("outcome", "", "Only this outcome (success, error, not_implemented)")
	limit := fs.Int("limit", 20, "Max rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withClient(conn, func(ctx context.Context, c *ipc.Client) error {
		var data struct {
			Records []sqlite.DispatchRecord `json:"records"`
		}
		params := map[string]any{"command": *command, "outcome": *outcome, "limit": *limit}
		if err := c.Control(ctx, "daemon.journal", params, &data); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tCOMMAND\tOUTCOME\tCODE\tDURATION\tTRACE")
		for _, rec := range data.Records {
			code := rec.Code
			if code == "" {
				code = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.StartedAt.Format(time.RFC3339), rec.Command, rec.Outcome, code, rec.Duration, rec.TraceID)
		}
		return tw.Flush()
	})
}

func watchCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	conn := addConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	socketPath, err := resolveSocketPath(*conn.profile, *conn.socket)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintln(out, "Subscribed to dispatch events (Ctrl+C to exit)")
	err = ipc.Watch(ctx, socketPath, "daemon.subscribe", nil, func(frame []byte) error {
		_, err := fmt.Fprintln(out, string(frame))
		return err
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func diagCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("diag", flag.ContinueOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadProfile(*profile)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Profile: %s\n", cfg.ProfileName)
	fmt.Fprintf(out, "Config: %s\n", filepath.Join(*profile, config.FileName))
	fmt.Fprintf(out, "DB Path: %s\n", config.ResolvePath(*profile, cfg.Storage.DBPath))
	fmt.Fprintf(out, "Socket: %s\n", config.ResolvePath(*profile, cfg.IPC.SocketPath))
	if cfg.Logging.FilePath != "" {
		fmt.Fprintf(out, "Log File: %s\n", config.ResolvePath(*profile, cfg.Logging.FilePath))
	}
	fmt.Fprintf(out, "SDK: %s", cfg.SDK.Provider)
	if cfg.SDK.Issuer != "" {
		fmt.Fprintf(out, " (issuer %s)", cfg.SDK.Issuer)
	}
	fmt.Fprintln(out)
	return nil
}

func withClient(conn connFlags, fn func(context.Context, *ipc.Client) error) error {
	socketPath, err := resolveSocketPath(*conn.profile, *conn.socket)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	c, err := ipc.Dial(ctx, socketPath)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func printJSON(out io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, buf.String())
	return err
}

func resolveSocketPath(profile, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := config.LoadProfile(profile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config not found in %s (run 'w3actl init -profile %s')", profile, profile)
		}
		return "", fmt.Errorf("load config: %w", err)
	}
	return config.ResolvePath(profile, cfg.IPC.SocketPath), nil
}
