package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/roster"
)

func newDigestCmd() *cobra.Command {
	var (
		configPath string
		send       bool
		agent      string
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print or send today's job summary",
		Long: `Prints today's job counts. With --send, the summary is delivered to every
active agent, or only to --agent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				if !send {
					s, err := a.reporter.Summary(ctx, time.Now())
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), a.texts.Daily(s))
					return nil
				}
				return sendDigest(ctx, cmd, a, agent)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&send, "send", false, "deliver the summary instead of printing it")
	cmd.Flags().StringVar(&agent, "agent", "", "send only to this agent (id or phone)")
	return cmd
}

func sendDigest(ctx context.Context, cmd *cobra.Command, a *app, ref string) error {
	var recipients []models.Agent
	if ref != "" {
		ag, err := roster.Get(ctx, a.db, ref)
		if err != nil {
			return err
		}
		recipients = append(recipients, *ag)
	} else {
		active, err := roster.List(ctx, a.db, models.AgentActive)
		if err != nil {
			return err
		}
		recipients = active
	}

	sent := 0
	for _, ag := range recipients {
		if err := a.reporter.Send(ctx, ag.Address); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "send to %s: %v\n", ag.Address, err)
			continue
		}
		sent++
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent daily summary to %d of %d agents\n", sent, len(recipients))
	return nil
}
