package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ae5tools/internal/platform"
)

// jobCreateFlags are the creation options shared by "job create",
// "project run", and "project schedule".
type jobCreateFlags struct {
	Name            string
	Command         string
	ResourceProfile string
	Variables       []string
}

func (f *jobCreateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Name, "name", "", "job name, autogenerated when omitted")
	cmd.Flags().StringVar(&f.Command, "command", "", "project command to run")
	cmd.Flags().StringVar(&f.ResourceProfile, "resource-profile", "", "resource profile")
	cmd.Flags().StringArrayVar(&f.Variables, "variable", nil, "variable setting <key>=<value>; may be repeated")
}

func runJobCreate(cmd *cobra.Command, text string, flags jobCreateFlags, opts platform.JobCreateOptions) error {
	opts.Name = flags.Name
	opts.Command = flags.Command
	opts.ResourceProfile = flags.ResourceProfile
	if len(flags.Variables) > 0 {
		opts.Variables = map[string]string{}
		for _, v := range flags.Variables {
			k, val, ok := strings.Cut(v, "=")
			if !ok {
				return fmt.Errorf("invalid variable %q: required format <key>=<value>", v)
			}
			opts.Variables[k] = val
		}
	}
	return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
		t, err := s.JobCreate(ctx, text, opts)
		if err != nil {
			return err
		}
		return output(cmd, t)
	})
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage jobs"}
	job.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.JobList(ctx)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	job.AddCommand(&cobra.Command{
		Use:   "info JOB",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.JobInfo(ctx, args[0], false)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	job.AddCommand(jobCreateCmd())
	job.AddCommand(&cobra.Command{
		Use:   "delete JOB",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirm("Delete job " + args[0]); err != nil {
				return err
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				return s.JobDelete(ctx, args[0])
			})
		},
	})
	return job
}

func jobCreateCmd() *cobra.Command {
	var flags jobCreateFlags
	var schedule string
	var run, wait, cleanup, showRun bool
	cmd := &cobra.Command{
		Use:   "create PROJECT",
		Short: "Create a job for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cleanup {
				run, wait = true, true
			}
			if wait {
				run = true
			}
			return runJobCreate(cmd, args[0], flags, platform.JobCreateOptions{
				Schedule: schedule,
				Run:      run,
				Wait:     wait,
				Cleanup:  cleanup,
				ShowRun:  showRun,
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule; omit for a run-once job")
	cmd.Flags().BoolVar(&run, "run", false, "run the job immediately")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the run to complete; implies --run")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "delete the job after the run completes; implies --run and --wait")
	cmd.Flags().BoolVar(&showRun, "show-run", false, "show the run record instead of the job record")
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Manage job runs"}
	run.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.RunList(ctx)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	run.AddCommand(&cobra.Command{
		Use:   "info RUN",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.RunInfo(ctx, args[0], false)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	run.AddCommand(&cobra.Command{
		Use:   "log RUN",
		Short: "Show a run's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				log, err := s.RunLog(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Print(log)
				return nil
			})
		},
	})
	run.AddCommand(&cobra.Command{
		Use:   "stop RUN",
		Short: "Stop an in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirm("Stop run " + args[0]); err != nil {
				return err
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				return s.RunStop(ctx, args[0])
			})
		},
	})
	run.AddCommand(&cobra.Command{
		Use:   "delete RUN",
		Short: "Delete a run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirm("Delete run " + args[0]); err != nil {
				return err
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				return s.RunDelete(ctx, args[0])
			})
		},
	})
	return run
}
