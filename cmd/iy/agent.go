package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/roster"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent roster commands",
	}

	cmd.AddCommand(newAgentAddCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentShowCmd())
	cmd.AddCommand(newAgentStatusCmd("activate", models.AgentActive))
	cmd.AddCommand(newAgentStatusCmd("deactivate", models.AgentInactive))
	return cmd
}

func newAgentAddCmd() *cobra.Command {
	var (
		configPath string
		opts       roster.AddOpts
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new agent",
		Long:  "Adds an active agent. The phone is the messaging address offers are sent to.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			a, err := roster.Add(context.Background(), gormDB, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added agent %s (%s)\n", a.ID, a.Address)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&opts.Address, "phone", "", "messaging address, e.g. +15550001 (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Zone, "zone", "", "service zone")
	cmd.Flags().StringSliceVar(&opts.Specializations, "specialization", nil, "specialization (repeatable)")
	cmd.Flags().IntVar(&opts.ExperienceYears, "experience", 0, "years of experience")
	cmd.Flags().Float64Var(&opts.Rating, "rating", 0, "rating")
	cmd.MarkFlagRequired("phone")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var (
		configPath string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			agents, err := roster.List(context.Background(), gormDB, status)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(agents) == 0 {
				fmt.Fprintln(out, "No agents found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PHONE\tNAME\tSTATUS\tZONE\tINSPECTIONS")
			for _, a := range agents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					a.Address, truncate(orDash(a.Name), 30), a.Status, orDash(a.Zone), a.TotalInspections)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, inactive)")
	return cmd
}

func newAgentShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id|phone>",
		Short: "Show agent details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			a, err := roster.Get(context.Background(), gormDB, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", a.ID)
			fmt.Fprintf(out, "Phone:       %s\n", a.Address)
			fmt.Fprintf(out, "Name:        %s\n", orDash(a.Name))
			fmt.Fprintf(out, "Status:      %s\n", a.Status)
			if a.Email != "" {
				fmt.Fprintf(out, "Email:       %s\n", a.Email)
			}
			if a.Zone != "" {
				fmt.Fprintf(out, "Zone:        %s\n", a.Zone)
			}
			if len(a.Specializations) > 0 {
				fmt.Fprintf(out, "Specialties: %s\n", strings.Join(a.Specializations, ", "))
			}
			fmt.Fprintf(out, "Experience:  %d years\n", a.ExperienceYears)
			fmt.Fprintf(out, "Rating:      %.1f\n", a.Rating)
			fmt.Fprintf(out, "Inspections: %d\n", a.TotalInspections)
			fmt.Fprintf(out, "Created:     %s\n", a.CreatedAt.Format(timestampLayout))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newAgentStatusCmd(use, status string) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use + " <id|phone>",
		Short: fmt.Sprintf("Set an agent's status to %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			a, err := roster.SetStatus(context.Background(), gormDB, args[0], status)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Agent %s is now %s\n", a.Address, a.Status)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
