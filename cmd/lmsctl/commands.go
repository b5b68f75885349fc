package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lmsapp/lmsauth/client"
)

func (c *cli) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username-or-email>",
		Short: "Log in and store the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				if password, err = prompt(cmd, "Password: "); err != nil {
					return err
				}
			}
			res, err := c.session.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			if !res.OK {
				return resultError("login failed", res)
			}
			subject, _ := c.session.Subject(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", subject)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted if omitted)")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.session.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func (c *cli) signupCmd() *cobra.Command {
	var req client.SignupRequest
	cmd := &cobra.Command{
		Use:       "signup <student|driver>",
		Short:     "Create an account and log in",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"student", "driver"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Password == "" {
				var err error
				if req.Password, err = prompt(cmd, "Password: "); err != nil {
					return err
				}
			}
			signup := c.session.SignupStudent
			if args[0] == "driver" {
				signup = c.session.SignupDriver
			}
			res, err := signup(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !res.OK {
				return resultError("signup failed", res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s account %s\n", args[0], req.Username)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.Username, "username", "", "Username")
	flags.StringVar(&req.Email, "email", "", "Email address")
	flags.StringVar(&req.Phone, "phone", "", "Phone number")
	flags.StringVar(&req.FullName, "name", "", "Full name")
	flags.StringVar(&req.ClassID, "class", "", "Class ID (students)")
	flags.StringVarP(&req.Password, "password", "p", "", "Password (prompted if omitted)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			b := c.session.Credentials(ctx)
			if b.IsZero() {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}

			inspector := c.session.Inspector()
			subject, err := c.session.Subject(ctx)
			if err != nil {
				subject = "(unknown)"
			}
			state := "valid"
			if inspector.IsExpired(b.AccessToken) {
				state = "expired"
			}
			fmt.Fprintf(out, "User:           %s\n", subject)
			fmt.Fprintf(out, "Access token:   %s (%s)\n", state, formatExpiry(inspector.ExpiryTime(b.AccessToken)))
			if b.HasRefreshToken() {
				fmt.Fprintf(out, "Refresh token:  %s\n", formatExpiry(inspector.ExpiryTime(b.RefreshToken)))
			} else {
				fmt.Fprintln(out, "Refresh token:  none")
			}
			return nil
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the session now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := c.session.EnsureValidSession(cmd.Context())
			if err != nil {
				return fmt.Errorf("refresh: %s: %w", state, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET an API path and print the response body",
		Long: `GET an API path with the stored session.

If the access token was rejected and the session refreshed while the request
was in flight, the request is sent once more.

Examples:
  lmsctl get /courses/list?classId=c10
  lmsctl get /students/me`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := c.get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			out.Write(body)
			if len(body) > 0 && body[len(body)-1] != '\n' {
				fmt.Fprintln(out)
			}
			if status < 200 || status >= 300 {
				return fmt.Errorf("server returned %d %s", status, http.StatusText(status))
			}
			return nil
		},
	}
}

// get performs the request, retrying once when the response is a stale 401
// that triggered a successful refresh.
func (c *cli) get(ctx context.Context, path string) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.session.URL(path), nil)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.session.HTTPClient().Do(req)
		if err != nil {
			return 0, nil, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return 0, nil, fmt.Errorf("reading response: %w", err)
		}
		if attempt == 0 && client.SessionRefreshed(resp) {
			continue
		}
		return resp.StatusCode, body, nil
	}
}

func (c *cli) resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset a forgotten password",
	}

	request := &cobra.Command{
		Use:   "request <email>",
		Short: "Email a reset code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.session.RequestPasswordReset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !res.OK {
				return resultError("reset request failed", res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "If the account exists, a reset code has been sent")
			return nil
		},
	}

	check := &cobra.Command{
		Use:   "check <email> <code>",
		Short: "Check a reset code without using it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.session.CheckResetCode(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !res.OK {
				return resultError("code rejected", res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Code is valid")
			return nil
		},
	}

	var password string
	confirm := &cobra.Command{
		Use:   "confirm <email> <code>",
		Short: "Set a new password with a reset code",
		Long: `Set a new password with a reset code.

The server only accepts a new password from the client that checked the code,
so the code is checked again in the same session first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			email, code := args[0], args[1]
			if password == "" {
				var err error
				if password, err = prompt(cmd, "New password: "); err != nil {
					return err
				}
			}
			res, err := c.session.CheckResetCode(ctx, email, code)
			if err != nil {
				return err
			}
			if !res.OK {
				return resultError("code rejected", res)
			}
			res, err = c.session.ResetPassword(ctx, email, code, password)
			if err != nil {
				return err
			}
			if !res.OK {
				return resultError("reset failed", res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password changed, please log in again")
			return nil
		},
	}
	confirm.Flags().StringVarP(&password, "password", "p", "", "New password (prompted if omitted)")

	cmd.AddCommand(request, check, confirm)
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "config",
		Short:       "Print the effective configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"session": "none"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "base_url:     %s\n", c.cfg.BaseURL)
			fmt.Fprintf(out, "store:        %s\n", c.cfg.Store)
			switch c.cfg.Store {
			case "fs":
				fmt.Fprintf(out, "store_path:   %s\n", c.cfg.StorePath)
			case "redis":
				fmt.Fprintf(out, "redis_addr:   %s\n", c.cfg.RedisAddr)
				fmt.Fprintf(out, "redis_prefix: %s\n", c.cfg.RedisPrefix)
			}
			fmt.Fprintf(out, "debounce:     %s\n", c.cfg.Debounce)
			if c.v.ConfigFileUsed() != "" {
				fmt.Fprintf(out, "config file:  %s\n", c.v.ConfigFileUsed())
			}
			return nil
		},
	}
}

// resultError turns a failed Result into an error carrying the server's
// error description when there is one.
func resultError(prefix string, res *client.Result) error {
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(res.Data, &body); err == nil {
		if body.Description != "" {
			return fmt.Errorf("%s: %s", prefix, body.Description)
		}
		if body.Error != "" {
			return fmt.Errorf("%s: %s", prefix, body.Error)
		}
	}
	return fmt.Errorf("%s: status %d", prefix, res.Status)
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no input")
	}
	return line, nil
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "no expiry"
	}
	d := time.Until(t).Round(time.Second)
	if d < 0 {
		return fmt.Sprintf("expired %s ago", -d)
	}
	return fmt.Sprintf("expires in %s", d)
}
