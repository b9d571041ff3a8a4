package main

import (
	"fmt"
	"io"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/diagnosis/luxsuv-portal/internal/guard"
	"github.com/diagnosis/luxsuv-portal/internal/notify"
	"github.com/diagnosis/luxsuv-portal/internal/session"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var creds domain.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.ask(&creds.Email, "Email"); err != nil {
				return err
			}
			if err := a.ask(&creds.Password, "Password"); err != nil {
				return err
			}
			creds.Normalize()
			if err := creds.Validate(); err != nil {
				return err
			}

			resp, err := a.api.Login(ctx, creds)
			if err != nil {
				return err
			}
			name := resp.Username
			if name == "" {
				name = creds.Email
			}
			if err := a.sessions.Login(ctx, resp.Token, name); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Logged in as %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored user token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

type whoami struct {
	Username           string          `json:"username,omitempty"`
	Authenticated      bool            `json:"authenticated"`
	Claims             *session.Claims `json:"claims,omitempty"`
	Profile            *domain.User    `json:"profile,omitempty"`
	AdminEmail         string          `json:"adminEmail,omitempty"`
	AdminAuthenticated bool            `json:"adminAuthenticated"`
	AdminPending       bool            `json:"adminPending"`
}

func newWhoamiCmd(a *app) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sess, err := a.sessions.Current(ctx)
			if err != nil {
				return err
			}

			w := whoami{
				Username:           sess.Username,
				Authenticated:      sess.Authenticated(),
				AdminEmail:         sess.AdminEmail,
				AdminAuthenticated: sess.AdminAuthenticated(),
				AdminPending:       sess.AdminPending(),
			}
			if w.Authenticated {
				if c, err := session.ParseClaims(sess.Token); err == nil {
					w.Claims = &c
				}
			}
			if remote {
				if err := guard.Enforce(sess, guard.RequireUser); err != nil {
					return err
				}
				u, err := a.api.GetUserData(ctx)
				if err != nil {
					return guard.HandleAuthError(ctx, a.sessions, apiclient.ScopeUser, err)
				}
				w.Profile = u
			}

			return a.emit(w, func(out io.Writer) {
				switch {
				case !w.Authenticated:
					fmt.Fprintln(out, "Not logged in")
				case w.Claims != nil && !w.Claims.ExpiresAt.IsZero():
					state := "expires"
					if w.Claims.Expired(time.Now()) {
						state = "expired"
					}
					fmt.Fprintf(out, "Logged in as %s (token %s %s)\n", w.Username, state, w.Claims.ExpiresAt.Local().Format(time.RFC1123))
				default:
					fmt.Fprintf(out, "Logged in as %s\n", w.Username)
				}
				if w.Profile != nil {
					fmt.Fprintf(out, "  %s <%s> %s\n", w.Profile.Name, w.Profile.Email, w.Profile.Mobile)
				}
				switch {
				case w.AdminAuthenticated:
					fmt.Fprintf(out, "Admin: %s\n", w.AdminEmail)
				case w.AdminPending:
					fmt.Fprintf(out, "Admin: %s (waiting for OTP)\n", w.AdminEmail)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "also fetch the profile from the server")
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	var req domain.SignupRequest
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.ask(&req.Password, "Password"); err != nil {
				return err
			}
			req.Normalize()
			if err := req.Validate(); err != nil {
				return err
			}
			resp, err := a.api.Signup(cmd.Context(), req)
			if err != nil {
				return err
			}
			msg := resp.Message
			if msg == "" {
				msg = "Account created. You can now log in."
			}
			fmt.Fprintln(a.out, msg)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Username, "username", "", "username")
	f.StringVar(&req.Name, "name", "", "full name")
	f.StringVar(&req.Email, "email", "", "email address")
	f.StringVar(&req.Mobile, "mobile", "", "10-digit mobile number")
	f.StringVar(&req.Password, "password", "", "password (prompted when omitted)")
	return cmd
}

func newContactCmd(a *app) *cobra.Command {
	var msg domain.ContactMessage
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Send a message to LuxSUV support",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.ask(&msg.Message, "Message"); err != nil {
				return err
			}
			if err := msg.Validate(); err != nil {
				return err
			}
			if err := a.contact.StoreContact(cmd.Context(), msg); err != nil {
				return err
			}
			n := notify.Success("Thank you! Your message has been sent.")
			return a.emit(n, func(out io.Writer) { fmt.Fprintln(out, n.Message) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&msg.Name, "name", "", "your name")
	f.StringVar(&msg.Email, "email", "", "your email")
	f.StringVar(&msg.Mobile, "mobile", "", "your mobile number")
	f.StringVar(&msg.Subject, "subject", "", "subject")
	f.StringVar(&msg.Message, "message", "", "message (prompted when omitted)")
	return cmd
}
