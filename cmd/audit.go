package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/ledgerscope/ledgerscope/pkg/api"
	"github.com/ledgerscope/ledgerscope/pkg/buffer"
)

// AuditCommand creates the audit command. By default it shows the live
// audit stream buffer captured by the sync daemon; --history queries
// the server-backed historical pages instead. The two populations are
// shown separately, never merged.
func AuditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Show captured audit events",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "history",
				Usage: "Fetch historical audit events from the server instead of the live buffer",
				Value: false,
			},
			&cli.IntFlag{
				Name:  "page",
				Usage: "Historical page to fetch (with --history)",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Entries per page (with --history) or maximum live entries",
				Value: 50,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print entries as NDJSON instead of styled output",
				Value: false,
			},
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "Empty the live audit buffer and its persisted copy",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("history") {
				return showAuditHistory(ctx, c.String("config"), c.Int("page"), c.Int("limit"), c.Bool("json"))
			}
			return showAuditStream(c.String("config"), c.Bool("json"), c.Bool("clear"), c.Int("limit"))
		},
	}
}

func showAuditStream(configPath string, asJSON, clear bool, limit int) error {
	_, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stream := buffer.NewAuditStream(store)

	if clear {
		stream.Clear()
		fmt.Println("Audit stream cleared")
		return nil
	}

	entries := stream.Entries()
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, entry := range entries {
			if err := enc.Encode(entry); err != nil {
				return fmt.Errorf("encoding entry: %w", err)
			}
		}
		return nil
	}

	fmt.Println(activityTitleStyle.Render(fmt.Sprintf("Audit stream (%d entries)", len(entries))))
	if len(entries) == 0 {
		fmt.Println(emptyStyle.Render("No audit events captured yet. Is the sync daemon running?"))
		return nil
	}
	for _, entry := range entries {
		printAuditLine(entry.EventKind, entry.OriginHash, entry.CollectionID, relativeTime(entry.Timestamp))
	}
	return nil
}

func showAuditHistory(ctx context.Context, configPath string, page, limit int, asJSON bool) error {
	cfg, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	token, err := store.Token()
	if err != nil {
		return fmt.Errorf("reading session token: %w", err)
	}

	client := api.NewClient(cfg.ServerURL, token)
	resp, err := client.GetAuditLogs(ctx, page, limit)
	if err != nil {
		return fmt.Errorf("fetching audit history: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, entry := range resp.Logs {
			if err := enc.Encode(entry); err != nil {
				return fmt.Errorf("encoding entry: %w", err)
			}
		}
		return nil
	}

	fmt.Println(activityTitleStyle.Render(
		fmt.Sprintf("Audit history (page %d/%d, %d entries)", resp.Page, resp.TotalPages, len(resp.Logs))))
	for _, entry := range resp.Logs {
		printAuditLine(entry.EventKind, entry.OriginHash, entry.CollectionID, relativeTime(entry.Timestamp))
	}
	if resp.HasMore {
		fmt.Println(emptyStyle.Render(fmt.Sprintf("More available: --page %d", resp.Page+1)))
	}
	return nil
}

func printAuditLine(kind, origin, collection, when string) {
	line := fmt.Sprintf("%s  origin=%s", categoryStyle.Render(kind), origin)
	if collection != "" {
		line += "  collection=" + collection
	}
	fmt.Printf("%s  %s\n", line, timestampStyle.Render(when))
}
