package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/urfave/cli/v3"

	"github.com/ledgerscope/ledgerscope/pkg/buffer"
)

// exportLine is one NDJSON record in an export archive: the entry plus
// which buffer it came from.
type exportLine struct {
	Kind     string                `json:"kind"`
	Activity *buffer.ActivityEntry `json:"activity,omitempty"`
	Audit    *buffer.AuditEntry    `json:"audit,omitempty"`
}

// ExportCommand creates the export command
func ExportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the captured buffers as a zstd-compressed NDJSON archive",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "output",
				Usage: "Output file path (default: ledgerscope-export-<date>.ndjson.zst)",
			},
			&cli.StringFlag{
				Name:  "buffer",
				Usage: "Which buffer to export: activity, audit, or all",
				Value: "all",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return exportBuffers(c.String("config"), c.String("output"), c.String("buffer"))
		},
	}
}

func exportBuffers(configPath, outputPath, which string) error {
	switch which {
	case "activity", "audit", "all":
	default:
		return fmt.Errorf("unknown buffer %q (want activity, audit, or all)", which)
	}

	_, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if outputPath == "" {
		outputPath = fmt.Sprintf("ledgerscope-export-%s.ndjson.zst", time.Now().Format("2006-01-02"))
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outputPath, err)
	}
	defer func() { _ = f.Close() }()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}

	enc := json.NewEncoder(zw)
	total := 0

	if which == "activity" || which == "all" {
		for _, entry := range buffer.NewActivityLog(store).Entries() {
			entry := entry
			if err := enc.Encode(exportLine{Kind: "activity", Activity: &entry}); err != nil {
				return fmt.Errorf("encoding activity entry: %w", err)
			}
			total++
		}
	}
	if which == "audit" || which == "all" {
		for _, entry := range buffer.NewAuditStream(store).Entries() {
			entry := entry
			if err := enc.Encode(exportLine{Kind: "audit", Audit: &entry}); err != nil {
				return fmt.Errorf("encoding audit entry: %w", err)
			}
			total++
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", outputPath, err)
	}

	fmt.Printf("Exported %d entries to %s\n", total, outputPath)
	return nil
}
