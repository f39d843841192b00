package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"
)

// TokenCommand creates the token command
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Manage the stored session token",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store the session token used to authenticate the push channel",
				ArgsUsage: "<token>",
				Action: func(ctx context.Context, c *cli.Command) error {
					token := c.Args().First()
					if token == "" {
						return errors.New("usage: ledgerscope token set <token>")
					}
					return setToken(c.String("config"), token)
				},
			},
			{
				Name:  "show",
				Usage: "Show whether a session token is stored",
				Action: func(ctx context.Context, c *cli.Command) error {
					return showToken(c.String("config"))
				},
			},
			{
				Name:  "clear",
				Usage: "Remove the stored session token",
				Action: func(ctx context.Context, c *cli.Command) error {
					return clearToken(c.String("config"))
				},
			},
		},
	}
}

func setToken(configPath, token string) error {
	_, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SetToken(token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	fmt.Println("Session token stored")
	return nil
}

func showToken(configPath string) error {
	_, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	token, err := store.Token()
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}
	if token == "" {
		fmt.Println("No session token stored")
		return nil
	}
	// Never print the full token; enough to recognize which one it is.
	if len(token) > 8 {
		token = token[:8] + "..."
	}
	fmt.Printf("Session token stored (%s)\n", token)
	return nil
}

func clearToken(configPath string) error {
	_, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.ClearToken(); err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}
	fmt.Println("Session token cleared")
	return nil
}
