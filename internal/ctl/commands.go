package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Host   string
	Token  string
	Format string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the keeperctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "keeperctl",
		Short: "Control a running keeperd",
		Long:  "keeperctl starts and stops call processing, manages the SIP registration and reads call history from keeperd.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Host, "host", "H", envOr("KEEPER_HOST", "http://127.0.0.1:8080"), "keeperd base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("KEEPER_TOKEN"), "access token (env KEEPER_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newStartCommand(opts))
	cmd.AddCommand(newStopCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newLiveCommand(opts))
	cmd.AddCommand(newRegisterCommand(opts))
	cmd.AddCommand(newUnregisterCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func (o *RootOptions) client() *Client { return NewClient(o.Host, o.Token) }

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newLoginCommand(opts *RootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Obtain a token from a local/dev keeperd and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				AccessToken string `json:"access_token"`
			}
			err := opts.client().Do(cmd.Context(), http.MethodPost, "/v1/auth/token",
				map[string]string{"user_id": args[0], "role": role}, &out)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd, out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export KEEPER_TOKEN=%s\n", out.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "operator", "role to request")
	return cmd
}

func newStartCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start call processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return processingCall(cmd, opts, http.MethodPost, "/v1/processing/start")
		},
	}
}

func newStopCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop call processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return processingCall(cmd, opts, http.MethodPost, "/v1/processing/stop")
		},
	}
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show processing state and registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			var st ProcessingState
			if err := c.Do(cmd.Context(), http.MethodGet, "/v1/processing", nil, &st); err != nil {
				return err
			}
			var reg Registration
			if err := c.Do(cmd.Context(), http.MethodGet, "/v1/registrations", nil, &reg); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd, map[string]any{"processing": st, "registration": reg})
			}
			renderProcessing(cmd.OutOrStdout(), st)
			renderRegistration(cmd.OutOrStdout(), reg)
			return nil
		},
	}
}

// processingCall runs start or stop. A failed start still prints the state
// keeperd reports.
func processingCall(cmd *cobra.Command, opts *RootOptions, method, path string) error {
	var st ProcessingState
	err := opts.client().Do(cmd.Context(), method, path, nil, &st)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadGateway {
		var body struct {
			Error string          `json:"error"`
			State ProcessingState `json:"state"`
		}
		if json.Unmarshal([]byte(apiErr.Body), &body) == nil {
			renderProcessing(cmd.OutOrStdout(), body.State)
			return errors.New(body.Error)
		}
	}
	if err != nil {
		return err
	}
	if opts.Format == "json" {
		return writeJSON(cmd, st)
	}
	renderProcessing(cmd.OutOrStdout(), st)
	return nil
}

func newHistoryCommand(opts *RootOptions) *cobra.Command {
	var since time.Duration
	var summary bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show call history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if since > 0 {
				q.Set("after", time.Now().Add(-since).UTC().Format(time.RFC3339Nano))
			}
			suffix := ""
			if len(q) > 0 {
				suffix = "?" + q.Encode()
			}

			c := opts.client()
			if summary {
				var s Summary
				if err := c.Do(cmd.Context(), http.MethodGet, "/v1/calls/summary"+suffix, nil, &s); err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd, s)
				}
				renderSummary(cmd.OutOrStdout(), s)
				return nil
			}

			var out struct {
				Events []CallEvent `json:"events"`
			}
			if err := c.Do(cmd.Context(), http.MethodGet, "/v1/calls/history"+suffix, nil, &out); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd, out.Events)
			}
			renderHistory(cmd.OutOrStdout(), out.Events)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 1h)")
	cmd.Flags().BoolVar(&summary, "summary", false, "print per-status counts instead of events")
	return cmd
}

func newLiveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Show calls in progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Calls []LiveCall `json:"calls"`
			}
			if err := opts.client().Do(cmd.Context(), http.MethodGet, "/v1/calls/live", nil, &out); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd, out.Calls)
			}
			renderLive(cmd.OutOrStdout(), out.Calls)
			return nil
		},
	}
}

func newRegisterCommand(opts *RootOptions) *cobra.Command {
	var registrar, username string
	cmd := &cobra.Command{
		Use:   "register <aor>",
		Short: "Register a SIP account (password from env KEEPER_SIP_PASSWORD)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"aor":       args[0],
				"registrar": registrar,
				"username":  username,
				"password":  os.Getenv("KEEPER_SIP_PASSWORD"),
			}
			return registrationCall(cmd, opts, http.MethodPost, body)
		},
	}
	cmd.Flags().StringVar(&registrar, "registrar", "", "registrar URI, e.g. sip:pbx.example.com")
	cmd.Flags().StringVar(&username, "username", "", "auth username (defaults to the AOR user)")
	_ = cmd.MarkFlagRequired("registrar")
	return cmd
}

func newUnregisterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Unregister and destroy the active SIP account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return registrationCall(cmd, opts, http.MethodDelete, nil)
		},
	}
}

func registrationCall(cmd *cobra.Command, opts *RootOptions, method string, body any) error {
	var reg Registration
	if err := opts.client().Do(cmd.Context(), method, "/v1/registrations", body, &reg); err != nil {
		return err
	}
	if opts.Format == "json" {
		return writeJSON(cmd, reg)
	}
	renderRegistration(cmd.OutOrStdout(), reg)
	return nil
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	var topics []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live state changes (Ctrl-C to stop)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Watch(cmd.Context(), opts.client(), cmd.OutOrStdout(), WatchOptions{
				Topics: topics,
				JSON:   opts.Format == "json",
			})
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topics to show: processing, call_history, registration")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs the root command with a context cancelled on interrupt.
func Execute(ctx context.Context, args []string) error {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// trimScheme shortens URIs for table output.
func trimScheme(uri string) string {
	return strings.TrimPrefix(strings.TrimPrefix(uri, "sips:"), "sip:")
}
