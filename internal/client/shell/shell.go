// Package shell is the interactive front end of the vault client.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/atinyakov/gophvault/internal/client/breach"
	"github.com/atinyakov/gophvault/internal/client/vault"
	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/models"
)

const helpText = `Available commands:
  add                 add a credential
  list                list credentials
  get <id>            show a decrypted password
  edit <id>           replace a password
  delete <id>         delete a credential
  import              import website:password lines
  generate [length]   generate a password
  sync [on|off]       run a sync pass, or toggle background sync
  scan [force]        check accounts against the breach service
  exit                leave the shell`

// Shell runs the read-eval-print loop over a Vault.
type Shell struct {
	vault  *vault.Vault
	prompt *Prompter
	out    io.Writer
	log    *zap.Logger
}

// New returns a Shell reading commands from in and writing to out.
func New(v *vault.Vault, in io.Reader, out io.Writer, log *zap.Logger) *Shell {
	if log == nil {
		log = zap.NewNop()
	}
	return &Shell{vault: v, prompt: NewPrompter(in, out), out: out, log: log}
}

// Run processes commands until exit, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(s.out, "gophvault> ")
		line, ok := s.prompt.ReadLine()
		if !ok {
			return nil
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			fmt.Fprintln(s.out, "Bye")
			return nil
		}
		if err := s.exec(ctx, args); err != nil {
			if errors.Is(err, verrors.ErrSessionClosed) {
				return err
			}
			fmt.Fprintln(s.out, color.RedString("Error: ")+err.Error())
		}
	}
}

func (s *Shell) exec(ctx context.Context, args []string) error {
	switch args[0] {
	case "help":
		fmt.Fprintln(s.out, helpText)
	case "add":
		nc, ok := s.prompt.PromptCredential()
		if !ok {
			return nil
		}
		rec, err := s.vault.Add(ctx, nc)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Credential %s added\n", rec.ID)
	case "list":
		return s.list(ctx)
	case "get":
		if len(args) < 2 {
			fmt.Fprintln(s.out, "Usage: get <id>")
			return nil
		}
		secret, err := s.vault.Reveal(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, secret)
	case "edit":
		if len(args) < 2 {
			fmt.Fprintln(s.out, "Usage: edit <id>")
			return nil
		}
		secret, ok := s.prompt.PromptSecret()
		if !ok {
			return nil
		}
		rec, err := s.vault.Edit(ctx, args[1], secret)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Credential %s updated\n", rec.ID)
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(s.out, "Usage: delete <id>")
			return nil
		}
		if err := s.vault.Delete(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Credential deleted")
	case "import":
		return s.importText(ctx)
	case "generate":
		return s.generate(args[1:])
	case "sync":
		return s.sync(ctx, args[1:])
	case "scan":
		force := len(args) > 1 && args[1] == "force"
		rep, err := s.vault.Scan(ctx, force)
		PrintReport(s.out, rep)
		return err
	default:
		fmt.Fprintln(s.out, "Unknown command. Type 'help' for a list of commands.")
	}
	return nil
}

func (s *Shell) list(ctx context.Context) error {
	all, err := s.vault.List(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(s.out, "No credentials stored")
		return nil
	}
	results, err := s.vault.BreachResults(ctx)
	if err != nil {
		s.log.Warn("breach results unavailable", zap.Error(err))
	}
	breached := map[string]bool{}
	for _, r := range results {
		if r.IsBreached {
			breached[r.SubjectIdentity] = true
		}
	}

	for _, c := range all {
		account := c.AccountLabel
		if breached[account] {
			account = color.RedString(account + " (breached)")
		}
		state := ""
		if c.PendingSync {
			state = color.YellowString(" [pending]")
		}
		fmt.Fprintf(s.out, "%-36s  %-24s  %s%s\n", c.ID, c.Site, account, state)
	}
	return nil
}

func (s *Shell) importText(ctx context.Context) error {
	text, ok := s.prompt.PromptImport()
	if !ok {
		return nil
	}
	res, err := s.vault.Import(ctx, text)
	for _, p := range res.Problems {
		fmt.Fprintln(s.out, color.YellowString("  "+p.String()))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Successfully imported: %d\nFailed: %d\n", res.Imported, res.Failed)
	return nil
}

func (s *Shell) generate(args []string) error {
	opts := vault.DefaultGenerateOptions()
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid length %q", args[0])
		}
		opts.Length = n
	}
	pw, err := vault.Generate(opts)
	if err != nil {
		return err
	}
	_, band := vault.Strength(pw)
	fmt.Fprintf(s.out, "%s  (%s)\n", pw, band)
	return nil
}

func (s *Shell) sync(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "on", "off":
			if err := s.vault.SetSyncEnabled(ctx, args[0] == "on"); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Sync %s\n", args[0])
			return nil
		default:
			fmt.Fprintln(s.out, "Usage: sync [on|off]")
			return nil
		}
	}
	out, err := s.vault.Sync(ctx)
	if err != nil {
		return err
	}
	PrintOutcome(s.out, out.Skipped, out.Uploaded, out.UploadFailed, out.Total)
	return nil
}

// PrintOutcome writes a one-line summary of a reconcile pass.
func PrintOutcome(w io.Writer, skipped bool, uploaded, failed, total int) {
	if skipped {
		fmt.Fprintln(w, "Sync is disabled, enable it with 'sync on'")
		return
	}
	line := fmt.Sprintf("Synced %d credentials, uploaded %d", total, uploaded)
	if failed > 0 {
		line += color.YellowString(", %d still pending", failed)
	}
	fmt.Fprintln(w, line)
}

// PrintReport writes breach results, highlighting breached accounts.
func PrintReport(w io.Writer, rep breach.Report) {
	if rep.RateLimited {
		msg := "Breach service rate limit reached"
		if rep.RetryAfter > 0 {
			msg += fmt.Sprintf(", retry in %s", rep.RetryAfter.Round(time.Second))
		}
		fmt.Fprintln(w, color.YellowString(msg))
	}
	for _, id := range rep.NewBreaches {
		fmt.Fprintln(w, color.New(color.FgRed, color.Bold).Sprintf("ALERT: %s appears in a new breach", id))
	}
	for _, r := range rep.Results {
		fmt.Fprintf(w, "  %-32s  %s\n", r.SubjectIdentity, statusText(r))
	}
	if rep.FromCache && !rep.LastCheckedAt.IsZero() {
		fmt.Fprintf(w, "Cached results from %s, use 'scan force' to check now\n",
			rep.LastCheckedAt.Local().Format(time.DateTime))
	}
}

func statusText(r models.BreachResult) string {
	switch r.Status {
	case models.StatusBreached:
		return color.RedString("breached")
	case models.StatusClean:
		return color.GreenString("clean")
	case models.StatusRateLimited:
		return color.YellowString("not checked (rate limited)")
	default:
		return color.YellowString("check failed")
	}
}
