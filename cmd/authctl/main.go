package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"nuomoria/backend/cmd/authctl/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login   commands.LoginCmd   `cmd:"" help:"Sign in"`
		Signup  commands.SignupCmd  `cmd:"" help:"Create a password account"`
		MFA     commands.MFACmd     `cmd:"" name:"mfa" help:"Second factor"`
		Profile commands.ProfileCmd `cmd:"" help:"Profile onboarding"`
		Status  commands.StatusCmd  `cmd:"" help:"Show the reconciled auth state"`
		Watch   commands.WatchCmd   `cmd:"" help:"Stream auth state changes and keep the session fresh"`
		Refresh commands.RefreshCmd `cmd:"" help:"Refresh the access token"`
		Logout  commands.LogoutCmd  `cmd:"" help:"Sign out"`
		Debug   bool                `help:"Enable debug logging."`
		Output  string              `short:"o" enum:"text,yaml,json" default:"text" help:"Output format (text, yaml, json)."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd := kong.Parse(&cli,
		kong.Name("authctl"),
		kong.Description("Nuomoria session client."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Output: cli.Output, Version: version})
	cmd.FatalIfErrorf(err)
}
