package main

import (
	"context"

	"github.com/spf13/cobra"

	"ae5tools/internal/platform"
	"ae5tools/internal/record"
)

func sessionCmd() *cobra.Command {
	ses := &cobra.Command{Use: "session", Short: "Manage interactive sessions"}
	ses.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.SessionList(ctx)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	ses.AddCommand(&cobra.Command{
		Use:   "info SESSION",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.SessionInfo(ctx, args[0], false)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	ses.AddCommand(sessionStartCmd())
	ses.AddCommand(&cobra.Command{
		Use:   "stop SESSION",
		Short: "Stop a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirm("Stop session " + args[0]); err != nil {
				return err
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				return s.SessionStop(ctx, args[0])
			})
		},
	})
	return ses
}

func sessionStartCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "start PROJECT",
		Short: "Start a session for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.SessionStart(ctx, args[0], !noWait)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for the session to complete startup")
	return cmd
}

func deploymentCmd() *cobra.Command {
	dep := &cobra.Command{Use: "deployment", Short: "Manage deployments"}
	dep.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.DeploymentList(ctx)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	dep.AddCommand(&cobra.Command{
		Use:   "info DEPLOYMENT",
		Short: "Show one deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.DeploymentInfo(ctx, args[0], false)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	dep.AddCommand(deploymentStartCmd())
	dep.AddCommand(deploymentRestartCmd())
	dep.AddCommand(&cobra.Command{
		Use:   "stop DEPLOYMENT",
		Short: "Stop a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirm("Stop deployment " + args[0]); err != nil {
				return err
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				return s.DeploymentStop(ctx, args[0])
			})
		},
	})
	dep.AddCommand(&cobra.Command{
		Use:   "endpoints",
		Short: "List static endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.DeploymentEndpoints(ctx)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	dep.AddCommand(deploymentCollaboratorCmd())
	return dep
}

func deploymentStartCmd() *cobra.Command {
	var opts platform.DeploymentStartOptions
	var noWait bool
	cmd := &cobra.Command{
		Use:   "start PROJECT",
		Short: "Start a deployment for a project revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Wait = !noWait
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.DeploymentStart(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "deployment name, default taken from the project")
	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "static endpoint name")
	cmd.Flags().StringVar(&opts.Command, "command", "", "project command to deploy")
	cmd.Flags().StringVar(&opts.ResourceProfile, "resource-profile", "", "resource profile")
	cmd.Flags().BoolVar(&opts.Public, "public", false, "make the deployment public")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for startup to complete")
	return cmd
}

func deploymentRestartCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "restart DEPLOYMENT",
		Short: "Stop and restart a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.DeploymentRestart(ctx, args[0], !noWait)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for startup to complete")
	return cmd
}

func deploymentCollaboratorCmd() *cobra.Command {
	col := &cobra.Command{Use: "collaborator", Short: "Manage deployment collaborators"}
	col.AddCommand(&cobra.Command{
		Use:   "list DEPLOYMENT",
		Short: "List a deployment's collaborators",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.DeploymentCollaborators(ctx, args[0])
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	col.AddCommand(collaboratorAddCmd("DEPLOYMENT", func(ctx context.Context, s *platform.UserSession, text string, ids []string, group, readOnly bool) (*record.Table, error) {
		return s.DeploymentCollaboratorAdd(ctx, text, ids, group, readOnly)
	}))
	col.AddCommand(collaboratorRemoveCmd("DEPLOYMENT", func(ctx context.Context, s *platform.UserSession, text string, ids []string) (*record.Table, error) {
		return s.DeploymentCollaboratorRemove(ctx, text, ids)
	}))
	return col
}

func collaboratorAddCmd(noun string, add func(ctx context.Context, s *platform.UserSession, text string, ids []string, group, readOnly bool) (*record.Table, error)) *cobra.Command {
	var group, readOnly bool
	cmd := &cobra.Command{
		Use:   "add " + noun + " ID...",
		Short: "Add collaborators",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := add(ctx, s, args[0], args[1:], group, readOnly)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
	cmd.Flags().BoolVar(&group, "group", false, "the ids name groups rather than users")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "grant read-only access")
	return cmd
}

func collaboratorRemoveCmd(noun string, remove func(ctx context.Context, s *platform.UserSession, text string, ids []string) (*record.Table, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "remove " + noun + " ID...",
		Short: "Remove collaborators",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := remove(ctx, s, args[0], args[1:])
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
}
