package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/atinyakov/gophvault/internal/certgen"
	"github.com/atinyakov/gophvault/internal/client/remote"
	"github.com/atinyakov/gophvault/internal/client/shell"
	"github.com/atinyakov/gophvault/internal/session"
)

var (
	registerLogin string
	scanForce     bool
)

func init() {
	registerCmd.Flags().StringVarP(&registerLogin, "login", "l", "", "email address to register")
	_ = registerCmd.MarkFlagRequired("login")

	scanCmd.Flags().BoolVarP(&scanForce, "force", "f", false, "ignore the cached result and scan now")
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an identity and store its client certificate",
	Long: `Asks the server to issue a client certificate for the given email address
and saves it into client.cert_dir. The server is verified against ca.crt in
the same directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		sess, err := session.New(registerLogin)
		if err != nil {
			return err
		}
		sess.Close()

		caPath := filepath.Join(cfg.Client.CertDir, certgen.CACertFile)
		if err := remote.Register(ctx, cfg.Client.ServerURL, sess.Identity, caPath, cfg.Client.CertDir); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Registered %s, certificate saved to %s\n",
			color.GreenString("✓"), sess.Identity, cfg.Client.CertDir)
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open the interactive vault shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		schedCtx, stopScheduler := context.WithCancel(ctx)
		var wg sync.WaitGroup
		if s := a.scheduler(); s != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Run(schedCtx)
			}()
		}

		err = shell.New(a.vault, cmd.InOrStdin(), cmd.OutOrStdout(), a.log).Run(ctx)
		stopScheduler()
		wg.Wait()
		return err
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconcile pass with the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancelPass := context.WithTimeout(ctx, a.cfg.Sync.Timeout)
		defer cancelPass()
		out, err := a.vault.Sync(ctx)
		if err != nil {
			return err
		}
		shell.PrintOutcome(cmd.OutOrStdout(), out.Skipped, out.Uploaded, out.UploadFailed, out.Total)
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Check account labels against the breach service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.vault.Scan(ctx, scanForce)
		if err != nil {
			return err
		}
		shell.PrintReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show build version and date",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gophvault client\nVersion: %s\nBuild Date: %s\n",
			orNA(version), orNA(buildDate))
	},
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
