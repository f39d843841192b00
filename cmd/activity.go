package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ledgerscope/ledgerscope/pkg/buffer"
)

// Define styles using lipgloss
var (
	activityTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("86")).
				Background(lipgloss.Color("235")).
				Padding(0, 1).
				Margin(0, 0, 1, 0)

	categoryStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Margin(1, 0)
)

// ActivityCommand creates the activity command
func ActivityCommand() *cli.Command {
	return &cli.Command{
		Name:  "activity",
		Usage: "Show the persisted activity log (most recent first)",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print entries as NDJSON instead of styled output",
				Value: false,
			},
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "Empty the activity log and its persisted copy",
				Value: false,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Show at most this many entries",
				Value: buffer.ActivityCap,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return showActivity(c.String("config"), c.Bool("json"), c.Bool("clear"), c.Int("limit"))
		},
	}
}

func showActivity(configPath string, asJSON, clear bool, limit int) error {
	_, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	activity := buffer.NewActivityLog(store)

	if clear {
		activity.Clear()
		fmt.Println("Activity log cleared")
		return nil
	}

	entries := activity.Entries()
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

	fmt.Println(activityTitleStyle.Render(fmt.Sprintf("Activity (%d entries)", len(entries))))
	if len(entries) == 0 {
		fmt.Println(emptyStyle.Render("No activity recorded yet. Is the sync daemon running?"))
		return nil
	}

	titleCaser := cases.Title(language.English)
	for _, entry := range entries {
		category := categoryStyle.Render(titleCaser.String(entry.Category))
		when := timestampStyle.Render(relativeTime(entry.Timestamp))
		fmt.Printf("%s  %s  %s\n", category, entry.Message, when)
	}
	return nil
}
