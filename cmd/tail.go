package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/urfave/cli/v3"

	"github.com/ledgerscope/ledgerscope/pkg/protocol"
	"github.com/ledgerscope/ledgerscope/pkg/syncer"
	"github.com/ledgerscope/ledgerscope/pkg/transport"
)

// TailCommand creates a CLI command that streams live push events to
// stdout as NDJSON.
//
// Typical usage:
//
//	ledgerscope tail
//	ledgerscope tail --topic chain_update --topic peer_update
//	ledgerscope tail | jq -r 'select(.event=="audit_log_update") | .origin_hash'
//
// The stream reconnects with the configured backoff if the connection
// drops; it never exits until interrupted.
func TailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Stream live push events as NDJSON",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "topic",
				Usage: "Only print events for this topic (repeatable; default all)",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print JSON instead of raw single-line",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return tailEvents(ctx, c.String("config"), c.StringSlice("topic"), c.Bool("pretty"))
		},
	}
}

// ndjsonHandler reprints raw frames, one per line, optionally filtered
// by topic. Unknown frames are dropped the same way the dispatcher
// drops them.
type ndjsonHandler struct {
	mu     sync.Mutex
	out    *bufio.Writer
	topics map[protocol.Topic]bool
	pretty bool
}

func (h *ndjsonHandler) Dispatch(data []byte) {
	event, ok, err := protocol.DecodeEvent(data)
	if err != nil || !ok {
		return
	}
	if len(h.topics) > 0 && !h.topics[event.Topic] {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pretty {
		var buf map[string]json.RawMessage
		if err := json.Unmarshal(data, &buf); err != nil {
			return
		}
		formatted, err := json.MarshalIndent(buf, "", "  ")
		if err != nil {
			return
		}
		_, _ = h.out.Write(formatted)
	} else {
		_, _ = h.out.Write(data)
	}
	_ = h.out.WriteByte('\n')
	_ = h.out.Flush()
}

func tailEvents(ctx context.Context, configPath string, topics []string, pretty bool) error {
	cfg, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	filter := make(map[protocol.Topic]bool)
	for _, raw := range topics {
		topic := protocol.Topic(raw)
		if !topic.Known() {
			return fmt.Errorf("unknown topic %q", raw)
		}
		filter[topic] = true
	}

	handler := &ndjsonHandler{
		out:    bufio.NewWriter(os.Stdout),
		topics: filter,
		pretty: pretty,
	}

	conn := transport.New(cfg.ServerURL)
	s := syncer.New(conn, store, handler, syncer.Config{
		InitialBackoff:   cfg.InitialBackoff.Duration,
		MaxBackoff:       cfg.MaxBackoff.Duration,
		StableResetAfter: cfg.StableResetAfter.Duration,
	})

	err = s.Run(ctx)
	if errors.Is(err, syncer.ErrNoToken) {
		return fmt.Errorf("no session token stored; run \"ledgerscope token set <token>\" first")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
