package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ae5tools/internal/platform"
	"ae5tools/internal/record"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectInfoCmd())
	prj.AddCommand(projectSessionsCmd())
	prj.AddCommand(projectDeploymentsCmd())
	prj.AddCommand(projectJobsCmd())
	prj.AddCommand(projectRunsCmd())
	prj.AddCommand(projectActivityCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectPatchCmd())
	prj.AddCommand(projectUploadCmd())
	prj.AddCommand(projectDownloadCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectDeployCmd())
	prj.AddCommand(projectRunCmd())
	prj.AddCommand(projectScheduleCmd())
	prj.AddCommand(projectCollaboratorCmd())
	prj.AddCommand(revisionCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var collaborators bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.ProjectList(ctx, collaborators)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
	cmd.Flags().BoolVar(&collaborators, "collaborators", false, "include collaborators (one extra call per project)")
	return cmd
}

func projectInfoCmd() *cobra.Command {
	var collaborators bool
	cmd := &cobra.Command{
		Use:   "info PROJECT",
		Short: "Show one project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.ProjectInfo(ctx, args[0], collaborators, false)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
	cmd.Flags().BoolVar(&collaborators, "collaborators", false, "include collaborators")
	return cmd
}

func projectSessionsCmd() *cobra.Command {
	return projectChildCmd("sessions", "List a project's sessions", func(ctx context.Context, s *platform.UserSession, text string) (*record.Table, error) {
		return s.ProjectSessions(ctx, text)
	})
}

func projectDeploymentsCmd() *cobra.Command {
	return projectChildCmd("deployments", "List a project's deployments", func(ctx context.Context, s *platform.UserSession, text string) (*record.Table, error) {
		return s.ProjectDeployments(ctx, text)
	})
}

func projectJobsCmd() *cobra.Command {
	return projectChildCmd("jobs", "List a project's jobs", func(ctx context.Context, s *platform.UserSession, text string) (*record.Table, error) {
		return s.ProjectJobs(ctx, text)
	})
}

func projectRunsCmd() *cobra.Command {
	return projectChildCmd("runs", "List a project's runs", func(ctx context.Context, s *platform.UserSession, text string) (*record.Table, error) {
		return s.ProjectRuns(ctx, text)
	})
}

func projectActivityCmd() *cobra.Command {
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "activity PROJECT",
		Short: "Show a project's activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				n := limit
				if all {
					n = 0
				}
				t, err := s.ProjectActivity(ctx, args[0], n, false)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "limit the output to N records")
	cmd.Flags().BoolVar(&all, "all", false, "retrieve all records")
	return cmd
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status PROJECT",
		Short: "Show a project's latest activity entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.ProjectActivity(ctx, args[0], 1, true)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
}

func projectPatchCmd() *cobra.Command {
	var name, editor, resourceProfile string
	cmd := &cobra.Command{
		Use:   "patch PROJECT",
		Short: "Change a project's name, editor, or resource profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates := map[string]string{}
			if cmd.Flags().Changed("name") {
				updates["name"] = name
			}
			if cmd.Flags().Changed("editor") {
				updates["editor"] = editor
			}
			if cmd.Flags().Changed("resource-profile") {
				updates["resource_profile"] = resourceProfile
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.ProjectPatch(ctx, args[0], updates)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new project name")
	cmd.Flags().StringVar(&editor, "editor", "", "editor for future sessions")
	cmd.Flags().StringVar(&resourceProfile, "resource-profile", "", "resource profile for future sessions")
	return cmd
}

func projectUploadCmd() *cobra.Command {
	var name, tag string
	var noWait bool
	cmd := &cobra.Command{
		Use:   "upload FILENAME",
		Short: "Upload a project archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				base := filepath.Base(args[0])
				name = strings.TrimSuffix(strings.TrimSuffix(base, ".gz"), ".tar")
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.ProjectUpload(ctx, archive, filepath.Base(args[0]), name, tag, !noWait)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name, default derived from the filename")
	cmd.Flags().StringVar(&tag, "tag", "", "commit tag for the initial revision")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for the creation to complete")
	return cmd
}

func projectDownloadCmd() *cobra.Command {
	var filename string
	cmd := &cobra.Command{
		Use:   "download PROJECT",
		Short: "Download a project archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				if filename == "" {
					row, err := s.Resolve(ctx, "projects", args[0])
					if err != nil {
						return err
					}
					filename = row.Str("name") + ".tar.gz"
				}
				data, err := s.ProjectDownload(ctx, args[0])
				if err != nil {
					return err
				}
				if err := os.WriteFile(filename, data, 0o644); err != nil {
					return err
				}
				fmt.Println(filename)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filename, "filename", "", "output filename, default derived from the project name")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete PROJECT",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirm("Delete project " + args[0]); err != nil {
				return err
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				return s.ProjectDelete(ctx, args[0])
			})
		},
	}
}

// projectDeployCmd is a shortcut for deployment start.
func projectDeployCmd() *cobra.Command {
	cmd := deploymentStartCmd()
	cmd.Use = "deploy PROJECT"
	cmd.Short = "Start a deployment for a project"
	return cmd
}

// projectRunCmd creates a job, runs it once to completion, deletes the
// job record, and shows the run.
func projectRunCmd() *cobra.Command {
	var opts jobCreateFlags
	cmd := &cobra.Command{
		Use:   "run PROJECT",
		Short: "Execute a project as a run-once job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCreate(cmd, args[0], opts, platform.JobCreateOptions{
				Run:     true,
				Wait:    true,
				Cleanup: true,
				ShowRun: true,
			})
		},
	}
	opts.register(cmd)
	return cmd
}

// projectScheduleCmd creates a scheduled job without running it.
func projectScheduleCmd() *cobra.Command {
	var opts jobCreateFlags
	cmd := &cobra.Command{
		Use:   "schedule PROJECT SCHEDULE",
		Short: "Create a run schedule for a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[1] == "" {
				return fmt.Errorf("schedule must not be empty")
			}
			return runJobCreate(cmd, args[0], opts, platform.JobCreateOptions{Schedule: args[1]})
		},
	}
	opts.register(cmd)
	return cmd
}

func projectChildCmd(child, short string, fn func(ctx context.Context, s *platform.UserSession, text string) (*record.Table, error)) *cobra.Command {
	return &cobra.Command{
		Use:   child + " PROJECT",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := fn(ctx, s, args[0])
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
}

func revisionCmd() *cobra.Command {
	rev := &cobra.Command{Use: "revision", Short: "Manage project revisions"}
	rev.AddCommand(&cobra.Command{
		Use:   "list PROJECT",
		Short: "List a project's revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.RevisionList(ctx, args[0])
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	rev.AddCommand(&cobra.Command{
		Use:   "info REVISION",
		Short: "Show one revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.RevisionInfo(ctx, args[0], false)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	download := projectDownloadCmd()
	download.Use = "download REVISION"
	download.Short = "Download a revision archive"
	rev.AddCommand(download)
	return rev
}

func projectCollaboratorCmd() *cobra.Command {
	col := &cobra.Command{Use: "collaborator", Short: "Manage project collaborators"}
	col.AddCommand(&cobra.Command{
		Use:   "list PROJECT",
		Short: "List a project's collaborators",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.ProjectCollaborators(ctx, args[0])
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	col.AddCommand(collaboratorAddCmd("PROJECT", func(ctx context.Context, s *platform.UserSession, text string, ids []string, group, readOnly bool) (*record.Table, error) {
		return s.ProjectCollaboratorAdd(ctx, text, ids, group, readOnly)
	}))
	col.AddCommand(collaboratorRemoveCmd("PROJECT", func(ctx context.Context, s *platform.UserSession, text string, ids []string) (*record.Table, error) {
		return s.ProjectCollaboratorRemove(ctx, text, ids)
	}))
	return col
}
