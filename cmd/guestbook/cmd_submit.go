package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/guestbook/pkg/config"
	"github.com/odvcencio/guestbook/pkg/submission"
)

func newSubmitCmd(global *globalOptions) *cobra.Command {
	var (
		name    string
		link    string
		message string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Propose one guestbook entry from the command line",
		Long: `Submit runs the same pipeline as a POST to the server and prints the
pull request URL. With --message - the message is read from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(global.configPath)
			if err != nil {
				return err
			}
			if message == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read message: %w", err)
				}
				message = strings.TrimRight(string(data), "\n")
			}

			form := url.Values{}
			form.Set(submission.FieldName, name)
			form.Set(submission.FieldURL, link)
			form.Set(submission.FieldMessage, message)
			sub, err := submission.Parse(form, time.Now(), submission.Options{
				RequireName:     cfg.Intake.RequireName,
				RequireMessage:  cfg.Intake.RequireMessage,
				MaxMessageBytes: cfg.Intake.MaxMessageBytes,
			})
			if err != nil {
				return err
			}

			orch, err := newOrchestrator(cfg, newLogger(cmd.ErrOrStderr(), global.verbose))
			if err != nil {
				return err
			}
			proposal, err := orch.Run(cmd.Context(), sub, submission.Canonicalize(sub))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "proposed %s on %s\n", proposal.Path, proposal.Branch)
			fmt.Fprintln(cmd.OutOrStdout(), proposal.URL)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&link, "url", "", "homepage link")
	cmd.Flags().StringVarP(&message, "message", "m", "", "entry text, or - for stdin")
	return cmd
}
