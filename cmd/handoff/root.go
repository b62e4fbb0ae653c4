package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/keyhandoff/internal/keystore"
	"github.com/and161185/keyhandoff/internal/logging"
)

// Exit codes.
const (
	exitGeneric    = 1
	exitUsage      = 2
	exitAuthFailed = 5
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitGeneric
}

type buildInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
}

// app carries global settings and injectable collaborators for the commands.
type app struct {
	out      io.Writer
	getenv   func(string) string
	now      func() time.Time
	log      *zap.Logger
	dialOpts dialOptions
	keysDir  string
	timeout  time.Duration
	logLevel string

	// connect opens a client; tests replace it.
	connect func(dialOptions) (rpcClient, func() error, error)
}

func newApp(out io.Writer) *app {
	return &app{out: out, getenv: os.Getenv, now: time.Now, connect: dial}
}

func (a *app) env(name, def string) string {
	if v := a.getenv("KEYHANDOFF_" + name); v != "" {
		return v
	}
	return def
}

// withClient opens a connection bounded by the command timeout and runs fn.
func (a *app) withClient(ctx context.Context, fn func(ctx context.Context, cl rpcClient) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	cl, closeFn, err := a.connect(a.dialOpts)
	if err != nil {
		return fmt.Errorf("connect %s: %w", a.dialOpts.addr, err)
	}
	defer func() { _ = closeFn() }()
	return fn(ctx, cl)
}

// store opens the local key store. The passphrase unlocks it; callers Close it.
func (a *app) store() (*keystore.FileStore, error) {
	pass := a.getenv("KEYHANDOFF_PASSPHRASE")
	if pass == "" {
		return nil, usageErrorf("set KEYHANDOFF_PASSPHRASE to unlock the key store")
	}
	return keystore.NewFileStore(a.keysDir, []byte(pass)), nil
}

func (a *app) password(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := a.getenv("KEYHANDOFF_PASSWORD"); v != "" {
		return v, nil
	}
	return "", usageErrorf("password required (-p or KEYHANDOFF_PASSWORD)")
}

func newRootCommand(a *app, build buildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "handoff",
		Short:         "Cross-device sign-in handoff client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.log != nil {
				return nil
			}
			log, _, err := logging.New(logging.Options{Level: a.logLevel, Dev: true})
			if err != nil {
				return usageErrorf("%v", err)
			}
			a.log = log
			return nil
		},
	}
	cmd.SetOut(a.out)
	cmd.SetErr(a.out)

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.dialOpts.addr, "addr", a.env("ADDR", "localhost:8443"), "server address")
	pf.StringVar(&a.dialOpts.caPath, "cacert", a.env("CACERT", ""), "CA certificate (PEM)")
	pf.BoolVar(&a.dialOpts.skipVerify, "insecure", false, "skip certificate verification (dev)")
	pf.BoolVar(&a.dialOpts.plaintext, "plaintext", false, "connect without TLS (dev)")
	pf.StringVar(&a.keysDir, "keys-dir", a.env("KEYS_DIR", defaultKeysDir()), "directory of the local key store")
	pf.DurationVar(&a.timeout, "timeout", 30*time.Second, "per-command timeout")
	pf.StringVar(&a.logLevel, "log-level", a.env("LOG_LEVEL", "warn"), "log level")

	cmd.AddCommand(
		newVersionCommand(a, build),
		newRegisterCommand(a),
		newConfirmCommand(a),
		newKeysCommand(a),
		newLoginCommand(a),
	)
	return cmd
}

func newVersionCommand(a *app, build buildInfo) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(build)
			}
			_, err := fmt.Fprintf(a.out, "handoff %s (%s)\n", build.Version, build.BuildDate)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print version as JSON")
	return cmd
}
