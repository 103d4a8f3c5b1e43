package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ae5tools/internal/config"
	"ae5tools/internal/platform"
	"ae5tools/internal/record"
)

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage platform users (admin)"}
	user.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, s *platform.AdminSession) error {
				t, err := s.UserList(ctx)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	user.AddCommand(&cobra.Command{
		Use:   "info USER",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, s *platform.AdminSession) error {
				t, err := s.UserInfo(ctx, args[0])
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	return user
}

func editorCmd() *cobra.Command {
	ed := &cobra.Command{Use: "editor", Short: "List available editors"}
	ed.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List editors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.EditorList(ctx)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	ed.AddCommand(&cobra.Command{
		Use:   "info EDITOR",
		Short: "Show one editor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.EditorInfo(ctx, args[0])
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	return ed
}

func sampleCmd() *cobra.Command {
	sm := &cobra.Command{Use: "sample", Short: "List sample and template projects"}
	sm.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.SampleList(ctx)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	sm.AddCommand(&cobra.Command{
		Use:   "info SAMPLE",
		Short: "Show one sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.SampleInfo(ctx, args[0])
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	return sm
}

func resourceProfileCmd() *cobra.Command {
	rp := &cobra.Command{Use: "resource-profile", Short: "List resource profiles"}
	rp.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List resource profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.ResourceProfileList(ctx)
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	})
	return rp
}

func accountCmd() *cobra.Command {
	acct := &cobra.Command{Use: "account", Short: "Manage saved login sessions"}
	acct.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			accounts, err := cfg.Accounts()
			if err != nil {
				return err
			}
			rows := make([]*record.Row, 0, len(accounts))
			for _, a := range accounts {
				row := record.NewRow()
				row.Set("hostname", a.Hostname)
				row.Set("username", a.Username)
				row.Set("admin", a.Admin)
				row.Set("last used", a.LastUsed)
				if !a.Expires.IsZero() {
					row.Set("expires", a.Expires)
				}
				row.Set("expired", a.Expired)
				rows = append(rows, row)
			}
			t, err := record.Normalize(rows, []string{"hostname", "username", "admin", "last used", "expires", "expired"}, false)
			if err != nil {
				return err
			}
			return output(cmd, t)
		},
	})
	acct.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Log out and discard the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("admin") {
				return withAdmin(cmd, func(ctx context.Context, s *platform.AdminSession) error {
					return s.Disconnect(ctx)
				})
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				return s.Disconnect(ctx)
			})
		},
	})
	return acct
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("admin") {
				return withAdmin(cmd, func(ctx context.Context, s *platform.AdminSession) error {
					if err := s.Authenticate(ctx); err != nil {
						return err
					}
					fmt.Printf("Connected as %s to %s\n", s.Username(), s.Hostname())
					return nil
				})
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				if err := s.Authenticate(ctx); err != nil {
					return err
				}
				fmt.Printf("Connected as %s to %s\n", s.Username(), s.Hostname())
				return nil
			})
		},
	}
}

func callCmd() *cobra.Command {
	var method, endpoint string
	var params []string
	cmd := &cobra.Command{
		Use:   "call PATH",
		Short: "Issue a raw API call",
		Long: `call issues an arbitrary request against the user API and formats
whatever JSON comes back. With --endpoint, the request is routed to a
deployment's static endpoint host instead of the main API.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := url.Values{}
			for _, p := range params {
				k, v, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("invalid parameter %q: required format <key>=<value>", p)
				}
				values.Add(k, v)
			}
			return withUser(cmd, func(ctx context.Context, s *platform.UserSession) error {
				t, err := s.Call(ctx, method, args[0], platform.CallOptions{
					Params:   values,
					Endpoint: endpoint,
				})
				if err != nil {
					return err
				}
				return output(cmd, t)
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "static endpoint host label to route to")
	cmd.Flags().StringArrayVar(&params, "param", nil, "query parameter <key>=<value>; may be repeated")
	return cmd
}
