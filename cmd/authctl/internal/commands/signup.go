package commands

import (
	"context"
	"fmt"
)

type SignupCmd struct {
	Email    string `arg:"" help:"Account email"`
	Password string `help:"Account password (8+ characters)" env:"AUTHCTL_PASSWORD" required:""`
	Role     string `help:"Account role" enum:"tenant,landlord" default:"tenant"`
}

func (s *SignupCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	res := a.Service.SignUp(ctx, s.Email, s.Password, s.Role)
	if res.ConfirmationSent {
		fmt.Printf("Confirmation email sent to %s. Sign in after confirming.\n", s.Email)
		return nil
	}
	return globals.finish(ctx, a, res)
}
