// Command inkwell is a terminal client for the note-taking API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var apiURL, statePath string

	root := &cobra.Command{
		Use:           "inkwell",
		Short:         "Notes and categories from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultState := ".inkwell/state.json"
	if home, err := os.UserHomeDir(); err == nil {
		defaultState = home + "/.inkwell/state.json"
	}
	root.PersistentFlags().StringVar(&apiURL, "api", envOr("INKWELL_API_URL", "http://localhost:8788"), "API base URL")
	root.PersistentFlags().StringVar(&statePath, "state", envOr("INKWELL_STATE_FILE", defaultState), "state file path")

	app := &cliApp{apiURL: &apiURL, statePath: &statePath}

	root.AddCommand(
		app.loginCmd(),
		app.logoutCmd(),
		app.categoryCmd(),
		app.noteCmd(),
		app.tagCmd(),
		app.searchCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
