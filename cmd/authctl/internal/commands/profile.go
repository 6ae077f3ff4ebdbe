package commands

import "context"

type ProfileCmd struct {
	Complete ProfileCompleteCmd `cmd:"" help:"Set nickname, password and role"`
}

type ProfileCompleteCmd struct {
	Nickname string `required:"" help:"Public nickname (3-30 letters or digits)"`
	Password string `help:"New password (optional)" env:"AUTHCTL_NEW_PASSWORD"`
	Role     string `help:"Upgrade role (tenant to landlord only)"`
}

func (p *ProfileCompleteCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return globals.finish(ctx, a, a.Service.CompleteProfile(ctx, p.Nickname, p.Password, p.Role))
}
