package commands

import "context"

type MFACmd struct {
	Verify MFAVerifyCmd `cmd:"" help:"Answer the second-factor challenge"`
}

type MFAVerifyCmd struct {
	Code string `arg:"" help:"6-digit code from the authenticator app"`
}

func (m *MFAVerifyCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return globals.finish(ctx, a, a.Service.VerifyMFACode(ctx, m.Code))
}
