package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"nuomoria/backend/internal/reconciler"
)

type StatusCmd struct{}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return globals.print(os.Stdout, a.Service.State())
}

type RefreshCmd struct{}

func (r *RefreshCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return globals.finish(ctx, a, a.Service.Refresh(ctx))
}

type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return globals.finish(ctx, a, a.Service.SignOut(ctx))
}

type WatchCmd struct {
	Interval time.Duration `help:"How often to check whether the token needs refreshing" default:"30s"`
}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	states, unsubscribe := a.Service.Subscribe()
	defer unsubscribe()
	go a.Provider.AutoRefresh(ctx, w.Interval)

	fmt.Fprintln(os.Stderr, "Watching auth state (press Ctrl+C to stop)...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			if err := globals.print(os.Stdout, st); err != nil {
				return err
			}
			if globals.Output == "text" {
				fmt.Println()
			}
			logTransition(globals, st)
		}
	}
}

func logTransition(globals *Globals, st reconciler.AuthState) {
	if !globals.Debug {
		return
	}
	fmt.Fprintf(os.Stderr, "generation %d: signed_in=%v mfa=%v\n", st.Generation, st.SignedIn(), st.MFAPending)
}
