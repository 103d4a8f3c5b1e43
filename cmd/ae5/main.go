package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"ae5tools/internal/config"
	"ae5tools/internal/format"
	"ae5tools/internal/platform"
	"ae5tools/internal/record"
)

var rootCmd = &cobra.Command{
	Use:   "ae5",
	Short: "Anaconda Enterprise 5 command line client",
	Long: `ae5 manages projects, sessions, deployments, and jobs on an
Anaconda Enterprise 5 cluster.

Identifiers passed to commands take the form [owner/]name[:revision] or a
record id, and may contain wildcards as long as they match exactly one
record. Passwords are never accepted on the command line: set AE5_PASSWORD
or AE5_ADMIN_PASSWORD, or let the tool prompt.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initEnv)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initEnv() {
	viper.SetEnvPrefix("AE5")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.String("hostname", "", "cluster hostname")
	pf.String("username", "", "login username")
	pf.String("admin-username", "", "admin login username")
	pf.Bool("admin", false, "use the administrative API")
	pf.Bool("impersonate", false, "log in as --username via the admin account instead of a password")
	pf.String("format", "text", "output format: text, csv, or json")
	pf.StringArray("filter", nil, "row filter <field><op><value>; may be repeated")
	pf.String("columns", "", "comma-separated list of columns to include")
	pf.String("sort", "", "comma-separated sort fields, prefix with - to reverse")
	pf.Int("width", 0, "table width in characters, 0 for unlimited")
	pf.Bool("wide", false, "do not limit table width")
	pf.Bool("no-header", false, "omit the header row")
	pf.Bool("yes", false, "do not ask for confirmation")
	for _, name := range []string{"hostname", "username", "admin-username", "admin", "impersonate", "format", "columns", "sort", "width", "wide", "no-header", "yes"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(deploymentCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(editorCmd())
	rootCmd.AddCommand(sampleCmd())
	rootCmd.AddCommand(resourceProfileCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(callCmd())
}

func formatOptions(cmd *cobra.Command) format.Options {
	filters, _ := cmd.Flags().GetStringArray("filter")
	return format.Options{
		Format:   viper.GetString("format"),
		Filter:   filters,
		Columns:  viper.GetString("columns"),
		Sort:     viper.GetString("sort"),
		Width:    viper.GetInt("width"),
		Wide:     viper.GetBool("wide"),
		NoHeader: viper.GetBool("no-header"),
	}
}

func output(cmd *cobra.Command, t *record.Table) error {
	if t == nil {
		return nil
	}
	return format.Output(os.Stdout, t, formatOptions(cmd))
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(key string) (string, error) {
	fmt.Fprintf(os.Stderr, "Password for %s: ", key)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// confirm asks before a destructive operation unless --yes was given.
func confirm(action string) error {
	if viper.GetBool("yes") {
		return nil
	}
	fmt.Fprintf(os.Stderr, "%s? [y/N] ", action)
	var answer string
	fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer != "y" && answer != "yes" {
		return fmt.Errorf("aborted")
	}
	return nil
}

func userSession(ctx context.Context) (*platform.UserSession, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	hostname, username, err := cfg.Resolve(viper.GetString("hostname"), viper.GetString("username"), false)
	if err != nil {
		return nil, err
	}
	if viper.GetBool("impersonate") {
		admin, err := adminSession(ctx)
		if err != nil {
			return nil, err
		}
		return admin.Impersonate(ctx, username, cfg.CookieFile(username, hostname))
	}
	return platform.NewUserSession(hostname, username, platform.UserOptions{
		Password:   os.Getenv("AE5_PASSWORD"),
		Prompt:     promptPassword,
		CookieFile: cfg.CookieFile(username, hostname),
	})
}

func adminSession(ctx context.Context) (*platform.AdminSession, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	hostname, username, err := cfg.Resolve(viper.GetString("hostname"), viper.GetString("admin-username"), true)
	if err != nil {
		return nil, err
	}
	return platform.NewAdminSession(ctx, hostname, username, platform.AdminOptions{
		Password:  os.Getenv("AE5_ADMIN_PASSWORD"),
		Prompt:    promptPassword,
		TokenFile: cfg.TokenFile(username, hostname),
	})
}

func withUser(cmd *cobra.Command, fn func(ctx context.Context, s *platform.UserSession) error) error {
	ctx := cmd.Context()
	s, err := userSession(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, s)
}

func withAdmin(cmd *cobra.Command, fn func(ctx context.Context, s *platform.AdminSession) error) error {
	ctx := cmd.Context()
	s, err := adminSession(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, s)
}
