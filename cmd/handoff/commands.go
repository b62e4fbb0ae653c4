package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/keyhandoff/internal/assertion"
	"github.com/and161185/keyhandoff/internal/convert"
	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/handoff"
	"github.com/and161185/keyhandoff/internal/model"
	"github.com/and161185/keyhandoff/internal/session"
)

func requireUsername(name, cmd string) error {
	if strings.TrimSpace(name) == "" {
		return usageErrorf("%s requires -u/--username", cmd)
	}
	return nil
}

func newRegisterCommand(a *app) *cobra.Command {
	var username, password, given, family string
	cmd := &cobra.Command{
		Use:     "register",
		Short:   "Create an account",
		Example: "  handoff register -u alice@example.com -p 'correct horse' --given-name Alice",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUsername(username, "register"); err != nil {
				return err
			}
			pwd, err := a.password(password)
			if err != nil {
				return err
			}
			return a.withClient(cmd.Context(), func(ctx context.Context, cl rpcClient) error {
				resp, err := cl.SignUp(ctx, convert.Strings(map[string]string{
					"username":    username,
					"password":    pwd,
					"given_name":  given,
					"family_name": family,
				}))
				if err != nil {
					return convert.FromStatus(err)
				}
				fmt.Fprintf(a.out, "user_id=%s\n", convert.String(resp, "user_id"))
				if !convert.Bool(resp, "user_confirmed") {
					fmt.Fprintf(a.out, "confirmation code sent; run: handoff confirm -u %s --code <code>\n", username)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (email)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	cmd.Flags().StringVar(&given, "given-name", "", "given name")
	cmd.Flags().StringVar(&family, "family-name", "", "family name")
	return cmd
}

func newConfirmCommand(a *app) *cobra.Command {
	var username, code string
	var resend bool
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm an account with the emailed code",
		Example: "  handoff confirm -u alice@example.com --code 123456\n" +
			"  handoff confirm -u alice@example.com --resend",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUsername(username, "confirm"); err != nil {
				return err
			}
			if !resend && code == "" {
				return usageErrorf("confirm requires --code or --resend")
			}
			return a.withClient(cmd.Context(), func(ctx context.Context, cl rpcClient) error {
				if resend {
					if _, err := cl.ResendCode(ctx, convert.Strings(map[string]string{"username": username})); err != nil {
						return convert.FromStatus(err)
					}
					fmt.Fprintln(a.out, "code resent")
					return nil
				}
				_, err := cl.ConfirmSignUp(ctx, convert.Strings(map[string]string{"username": username, "code": code}))
				if err != nil {
					return convert.FromStatus(err)
				}
				fmt.Fprintln(a.out, "confirmed")
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (email)")
	cmd.Flags().StringVar(&code, "code", "", "6-digit confirmation code")
	cmd.Flags().BoolVar(&resend, "resend", false, "request a new code instead")
	return cmd
}

func newKeysCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the local association key",
	}
	cmd.AddCommand(
		newKeysProvisionCommand(a),
		newKeysShowCommand(a),
		newKeysRemoveCommand(a),
	)
	return cmd
}

// sessionFrom turns a non-success outcome into an error with a next step.
func sessionFrom(outcome model.AuthOutcome) (model.ProviderSession, error) {
	switch o := outcome.(type) {
	case model.Success:
		return o.Session, nil
	case model.ChallengeRequired:
		return model.ProviderSession{}, fmt.Errorf("%w: %s; run handoff confirm first", errs.ErrChallengeRequired, o.Challenge)
	case model.Failure:
		return model.ProviderSession{}, &exitError{code: exitAuthFailed, err: o.Err}
	default:
		return model.ProviderSession{}, errs.ErrInvalidSession
	}
}

func newKeysProvisionCommand(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the association key for an identity and register it with the verifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUsername(username, "keys provision"); err != nil {
				return err
			}
			pwd, err := a.password(password)
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return a.withClient(cmd.Context(), func(ctx context.Context, cl rpcClient) error {
				sess, err := sessionFrom(signIn(ctx, cl, username, pwd))
				if err != nil {
					return err
				}
				assoc, err := store.Provision(ctx, sess.Username)
				if err != nil {
					return err
				}
				_, err = cl.RegisterAssociationKey(ctx,
					convert.Strings(map[string]string{"association_key": assoc}),
					withBearer(sess.AccessToken, !a.dialOpts.plaintext))
				if err != nil {
					return fmt.Errorf("register association key: %w", convert.FromStatus(err))
				}
				fmt.Fprintln(a.out, assoc)
				return rememberSession(sess)
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (email)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	return cmd
}

func newKeysShowCommand(a *app) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the association key of an identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUsername(username, "keys show"); err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			assoc, err := store.AssociationKey(cmd.Context(), username)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, assoc)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (email)")
	return cmd
}

func newKeysRemoveCommand(a *app) *cobra.Command {
	var username, password string
	var localOnly bool
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Unregister the association key of an identity and delete the local key",
		Example: "  handoff keys remove -u alice@example.com\n" +
			"  handoff keys remove -u alice@example.com --local",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUsername(username, "keys remove"); err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if !localOnly {
				err := a.withClient(cmd.Context(), func(ctx context.Context, cl rpcClient) error {
					tok, err := a.accessToken(ctx, cl, username, password)
					if err != nil {
						return err
					}
					_, err = cl.UnregisterAssociationKey(ctx, &structpb.Struct{}, withBearer(tok, !a.dialOpts.plaintext))
					if err := convert.FromStatus(err); err != nil && !errors.Is(err, errs.ErrNotFound) {
						return fmt.Errorf("unregister association key: %w", err)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			if err := store.Remove(cmd.Context(), username); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "removed")
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (email)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, used when no saved session is valid")
	cmd.Flags().BoolVar(&localOnly, "local", false, "delete the local key only")
	return cmd
}

// accessToken returns the saved bearer token for username, signing in again when it is missing or expired.
func (a *app) accessToken(ctx context.Context, cl rpcClient, username, passwordFlag string) (string, error) {
	tok, err := loadToken(username, a.now())
	if err == nil {
		return tok, nil
	}
	a.log.Debug("saved session unusable", zap.String("username", username), zap.Error(err))

	pwd, err := a.password(passwordFlag)
	if err != nil {
		return "", err
	}
	sess, err := sessionFrom(signIn(ctx, cl, username, pwd))
	if err != nil {
		return "", err
	}
	if err := rememberSession(sess); err != nil {
		return "", err
	}
	return sess.AccessToken, nil
}

func newLoginCommand(a *app) *cobra.Command {
	var username, password string
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and hand the session off to the verifier",
		Example: "  handoff login -u alice@example.com\n" +
			"  handoff login -u alice@example.com --print > payload.json",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUsername(username, "login"); err != nil {
				return err
			}
			pwd, err := a.password(password)
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			flow := handoff.New(session.NewAdapterWithClock(a.now), assertion.NewBuilder(assertion.WithClock(a.now)), store, a.log)

			return a.withClient(cmd.Context(), func(ctx context.Context, cl rpcClient) error {
				outcome := signIn(ctx, cl, username, pwd)
				if f, ok := outcome.(model.Failure); ok {
					return &exitError{code: exitAuthFailed, err: f.Err}
				}

				if printOnly {
					p, err := flow.Prepare(ctx, outcome)
					if err != nil {
						return explain(err)
					}
					b, err := assertion.Encode(p)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(a.out, string(b))
					return err
				}

				res, err := flow.Complete(ctx, outcome, remoteVerifier{cl: cl})
				if err != nil {
					return explain(err)
				}
				fmt.Fprintln(a.out, res)
				if res != model.Authenticated {
					return &exitError{code: exitAuthFailed, err: errors.New(res.String())}
				}
				if s, ok := outcome.(model.Success); ok {
					return rememberSession(s.Session)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (email)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the assertion payload instead of verifying it")
	return cmd
}

// explain adds the next step to handoff errors a user can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, errs.ErrChallengeRequired):
		return fmt.Errorf("%w; run handoff confirm first", err)
	case errors.Is(err, errs.ErrKeyUnavailable):
		return fmt.Errorf("%w; run handoff keys provision first", err)
	default:
		return err
	}
}
