package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/inspectyard/internal/confirm"
	"github.com/zulandar/inspectyard/internal/job"
	"github.com/zulandar/inspectyard/internal/models"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspection job commands",
	}

	cmd.AddCommand(newJobCreateCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobShowCmd())
	cmd.AddCommand(newJobTransitionCmd("approve", "Approve the agreed inspection time", job.EventConfirm))
	cmd.AddCommand(newJobTransitionCmd("start", "Mark the inspection as started", job.EventStart))
	cmd.AddCommand(newJobTransitionCmd("complete", "Mark the inspection as completed", job.EventComplete))
	cmd.AddCommand(newJobDeleteCmd())
	return cmd
}

// withApp connects, wires the components and runs fn.
func withApp(cmd *cobra.Command, configPath string, fn func(ctx context.Context, a *app) error) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, gormDB, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newJobCreateCmd() *cobra.Command {
	var (
		configPath string
		at         string
		req        job.CreateRequest
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an inspection request and offer it to agents",
		Long: `Creates a pending job and broadcasts the offer to every active agent. With
--prefer-existing, a client who already has an assigned job is routed to
that agent instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				when, err := time.ParseInLocation("2006-01-02 15:04", at, a.cfg.Location())
				if err != nil {
					return fmt.Errorf("--at must be \"YYYY-MM-DD HH:MM\": %w", err)
				}
				req.ScheduledFor = when
				j, err := a.registry.CreateJob(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created job %s for %s\n", j.ID, j.ScheduledFor.In(a.cfg.Location()).Format("2006-01-02 15:04"))
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&at, "at", "", "inspection time, \"YYYY-MM-DD HH:MM\" in the configured timezone (required)")
	cmd.Flags().StringVar(&req.Property.ID, "property-id", "", "property identifier")
	cmd.Flags().StringVar(&req.Property.Title, "property", "", "property title")
	cmd.Flags().StringVar(&req.Property.Address, "address", "", "property address")
	cmd.Flags().StringVar(&req.Property.Type, "property-type", "", "property type")
	cmd.Flags().StringVar(&req.Client.Name, "client", "", "client name")
	cmd.Flags().StringVar(&req.Client.Phone, "client-phone", "", "client messaging address (required)")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes for the agent")
	cmd.Flags().BoolVar(&req.PreferExistingAgent, "prefer-existing", false, "route to the client's current agent if any")
	cmd.MarkFlagRequired("at")
	cmd.MarkFlagRequired("client-phone")
	return cmd
}

func newJobListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		filters    job.ListFilters
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				filters.Status = models.JobStatus(status)
				jobs, err := a.registry.List(ctx, filters)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs found.")
					return nil
				}
				loc := a.cfg.Location()
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tPROPERTY\tCLIENT\tAGENT\tSCHEDULED")
				for _, j := range jobs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						j.ID, j.Status, truncate(orDash(j.Property.Title), 30), orDash(j.ClientPhone),
						orDash(j.AssignedAgent), j.ScheduledFor.In(loc).Format("2006-01-02 15:04"))
				}
				w.Flush()
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&filters.Agent, "agent", "", "filter by assigned agent")
	cmd.Flags().StringVar(&filters.ClientPhone, "client-phone", "", "filter by client")
	cmd.Flags().StringVar(&filters.PropertyID, "property-id", "", "filter by property")
	cmd.Flags().IntVar(&filters.Limit, "limit", 50, "maximum rows")
	return cmd
}

func newJobShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show job details, confirmations and pending timers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				j, err := a.registry.Get(ctx, args[0])
				if err != nil {
					return err
				}
				recs, err := a.tracker.ForJob(ctx, j.ID)
				if err != nil {
					return err
				}
				printJob(cmd, a, j, recs)
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func printJob(cmd *cobra.Command, a *app, j *models.Job, recs []models.Confirmation) {
	out := cmd.OutOrStdout()
	loc := a.cfg.Location()
	fmt.Fprintf(out, "ID:          %s\n", j.ID)
	fmt.Fprintf(out, "Status:      %s\n", j.Status)
	fmt.Fprintf(out, "Next:        %s\n", confirm.NextAction(j.Status))
	fmt.Fprintf(out, "Property:    %s\n", orDash(j.Property.Title))
	if j.Property.Address != "" {
		fmt.Fprintf(out, "Address:     %s\n", j.Property.Address)
	}
	fmt.Fprintf(out, "Client:      %s %s\n", orDash(j.Client.Name), j.Client.Phone)
	fmt.Fprintf(out, "Agent:       %s\n", orDash(j.AssignedAgent))
	fmt.Fprintf(out, "Scheduled:   %s\n", j.ScheduledFor.In(loc).Format(timestampLayout))
	fmt.Fprintf(out, "Requested:   %s\n", j.CreatedAt.In(loc).Format(timestampLayout))
	fmt.Fprintf(out, "Assigned:    %s\n", formatStamp(j.AssignedAt, loc))
	fmt.Fprintf(out, "Approved:    %s\n", formatStamp(j.ApprovedAt, loc))
	fmt.Fprintf(out, "Started:     %s\n", formatStamp(j.StartedAt, loc))
	fmt.Fprintf(out, "Completed:   %s\n", formatStamp(j.CompletedAt, loc))
	if j.Notes != "" {
		fmt.Fprintf(out, "\nNotes:\n%s\n", j.Notes)
	}

	if len(recs) > 0 {
		fmt.Fprintln(out, "\nConfirmations:")
		for _, r := range recs {
			fmt.Fprintf(out, "  %s %s %s (replies=%d)\n", r.AgentAddress, r.Response, r.CompletionState, r.Replies)
		}
	}

	var timers []string
	for _, t := range a.scheduler.Pending() {
		if t.Key == j.ID {
			timers = append(timers, fmt.Sprintf("  %s at %s", t.Kind, t.FireAt.In(loc).Format(timestampLayout)))
		}
	}
	if len(timers) > 0 {
		fmt.Fprintln(out, "\nTimers:")
		for _, line := range timers {
			fmt.Fprintln(out, line)
		}
	}
}

func newJobTransitionCmd(use, short string, ev job.Event) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				j, err := a.registry.Apply(ctx, args[0], ev, "")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s is now %s\n", j.ID, j.Status)
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newJobDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a job and cancel its timers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				existed, err := a.registry.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				if !existed {
					return fmt.Errorf("%w: %s", job.ErrJobNotFound, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", args[0])
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
