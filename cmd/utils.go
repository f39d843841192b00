package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ledgerscope/ledgerscope/pkg/config"
	"github.com/ledgerscope/ledgerscope/pkg/storage"
)

// openStore loads the config and opens the state database it points at.
// Callers own closing the store.
func openStore(configPath string) (*config.Config, *storage.Store, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.NewStore(filepath.Join(cfg.StorageDir, "state.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening state database: %w", err)
	}
	return cfg, store, nil
}

// relativeTime renders a timestamp the way the activity views show it:
// recent entries get a humanized age, older ones the full date.
func relativeTime(ts time.Time) string {
	if ts.IsZero() {
		return "unknown"
	}
	age := time.Since(ts)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return ts.Local().Format("2006-01-02 15:04")
	}
}
