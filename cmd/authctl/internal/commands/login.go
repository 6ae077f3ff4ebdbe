package commands

import (
	"context"
	"fmt"
)

type LoginCmd struct {
	Password LoginPasswordCmd `cmd:"" help:"Sign in with email and password"`
	Google   LoginGoogleCmd   `cmd:"" help:"Print the Google sign-in URL"`
	Exchange LoginExchangeCmd `cmd:"" help:"Complete a Google sign-in with the returned code"`
}

type LoginPasswordCmd struct {
	Email    string `arg:"" help:"Account email"`
	Password string `help:"Account password" env:"AUTHCTL_PASSWORD" required:""`
}

func (l *LoginPasswordCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return globals.finish(ctx, a, a.Service.SignInWithPassword(ctx, l.Email, l.Password))
}

type LoginGoogleCmd struct {
	Role string `help:"Role for a new account (tenant, landlord)"`
}

func (l *LoginGoogleCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	res := a.Service.SignInWithGoogle(ctx, l.Role)
	if res.Err != nil {
		return res.Err
	}
	fmt.Println("Open this URL to continue, then run: authctl login exchange <code>")
	fmt.Println(res.URL)
	return nil
}

type LoginExchangeCmd struct {
	Code string `arg:"" help:"Authorization code from the redirect"`
}

func (l *LoginExchangeCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return globals.finish(ctx, a, a.Service.ExchangeOAuthCode(ctx, l.Code))
}
