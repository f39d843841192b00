package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/ledgerscope/ledgerscope/pkg/api"
	"github.com/ledgerscope/ledgerscope/pkg/buffer"
)

// StatusCommand creates the status command
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show service reachability and local sync state",
		Action: func(ctx context.Context, c *cli.Command) error {
			return showStatus(ctx, c.String("config"))
		},
	}
}

func showStatus(ctx context.Context, configPath string) error {
	cfg, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	fmt.Printf("Server:      %s\n", cfg.ServerURL)

	token, err := store.Token()
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}
	if token == "" {
		fmt.Println("Token:       not stored (push channel disabled)")
	} else {
		fmt.Println("Token:       stored")
	}

	client := api.NewClient(cfg.ServerURL, token)
	health, err := client.GetHealth(ctx)
	if err != nil {
		fmt.Printf("Health:      unreachable (%v)\n", err)
	} else {
		fmt.Printf("Health:      %s (service version %s)\n", health.Status, health.Version)
	}

	activity := buffer.NewActivityLog(store)
	audit := buffer.NewAuditStream(store)
	fmt.Printf("Activity:    %d/%d entries\n", activity.Len(), buffer.ActivityCap)
	fmt.Printf("Audit:       %d/%d entries\n", audit.Len(), buffer.AuditCap)

	stats, err := store.GetStats()
	if err != nil {
		return fmt.Errorf("reading storage stats: %w", err)
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fmt.Println("Storage:")
	for _, key := range keys {
		fmt.Printf("  %s: %v\n", key, stats[key])
	}
	return nil
}
