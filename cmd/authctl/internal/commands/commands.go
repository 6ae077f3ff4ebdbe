package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nuomoria/backend/internal/app"
	"nuomoria/backend/internal/config"
	"nuomoria/backend/internal/logger"
	"nuomoria/backend/internal/reconciler"
)

type Globals struct {
	Debug   bool
	Output  string
	Version string
}

// settleTimeout bounds how long a command waits for the reconciler after an action.
const settleTimeout = 45 * time.Second

// open loads config, wires the app and runs the initial reconciliation.
func (g *Globals) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if g.Debug {
		level = "debug"
	}
	log := logger.Setup(level, cfg.LogPretty)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	a.Reconciler.Start(ctx)
	if err := settle(ctx, a); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func settle(ctx context.Context, a *app.App) error {
	wctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	return a.Service.Wait(wctx)
}

// finish waits for the reconciler, prints the state and maps a failed action to an error.
func (g *Globals) finish(ctx context.Context, a *app.App, res reconciler.ActionResult) error {
	if err := settle(ctx, a); err != nil {
		return err
	}
	if len(res.FieldErrors) > 0 {
		for field, msg := range res.FieldErrors {
			fmt.Fprintf(os.Stderr, "%s: %s\n", field, msg)
		}
		return fmt.Errorf("invalid input")
	}
	if res.Err != nil {
		return res.Err
	}
	return g.print(os.Stdout, a.Service.State())
}

func (g *Globals) print(w io.Writer, st reconciler.AuthState) error {
	switch g.Output {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(st)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprintln(w, describe(st))
	return nil
}

func describe(st reconciler.AuthState) string {
	switch {
	case st.Loading:
		return "LOADING"
	case st.Err != nil:
		return fmt.Sprintf("SIGNED OUT (%s): %s", st.Err.Kind, st.Err.Message)
	case st.MFAPending:
		ids := make([]string, 0)
		if st.MFA != nil {
			for _, f := range st.MFA.Factors {
				ids = append(ids, f.ID)
			}
		}
		return fmt.Sprintf("MFA REQUIRED (factors: %s); run: authctl mfa verify <code>", strings.Join(ids, ", "))
	case st.User == nil:
		return "SIGNED OUT"
	}
	u := st.User
	var b strings.Builder
	fmt.Fprintf(&b, "SIGNED IN  %s <%s>\n", u.ID, u.Email)
	fmt.Fprintf(&b, "  role:      %s\n", u.Role)
	fmt.Fprintf(&b, "  nickname:  %s\n", u.Nickname)
	fmt.Fprintf(&b, "  name:      %s %s\n", u.FirstName, u.LastName)
	if u.Provisional {
		b.WriteString("  (provisional: profile store unavailable)\n")
	}
	if st.NeedsProfileCompletion {
		b.WriteString("  profile incomplete; run: authctl profile complete --nickname <name>\n")
	}
	fmt.Fprintf(&b, "  generation: %d", st.Generation)
	return b.String()
}
