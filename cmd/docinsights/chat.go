package main

import (
	"context"
	"fmt"
	"io"

	"github.com/barekit/docinsights/pkg/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func chatCMD(cfgPath *string) *cobra.Command {
	var logPath string
	cmd := &cobra.Command{
		Use:   "chat [file]",
		Short: "Chat with a document in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}

			// The terminal belongs to the UI; logs go to a file or nowhere.
			var logOut io.Writer = io.Discard
			if logPath != "" {
				f, err := tea.LogToFile(logPath, "")
				if err != nil {
					return fmt.Errorf("failed to open log file: %w", err)
				}
				defer f.Close()
				logOut = f
			}
			setupLogger(cfg.General, logOut)

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			s, greeting := a.sessions.Start()
			opts := []tui.Option{tui.WithMaxBytes(cfg.Ingest.MaxBytes)}
			if len(args) == 1 {
				opts = append(opts, tui.WithFile(args[0]))
			}

			p := tea.NewProgram(tui.New(s, greeting, opts...), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&logPath, "log-file", "", "write logs to this file")
	return cmd
}
