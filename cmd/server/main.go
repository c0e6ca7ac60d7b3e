// Command server runs the ProService subscription backend.
//
//	server serve                      run the HTTP API and the reconciler schedule
//	server reconcile                  revisit failed and unmatched billing events once
//	server events --status unmatched  list billing events from the local log
//	server version
//
// Configuration comes from the environment (and an optional .env file);
// see internal/config.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sakif/proservice/internal/config"
	"github.com/sakif/proservice/internal/model"
	"github.com/sakif/proservice/internal/server"
)

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "server",
		Short:         "ProService subscription backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load settings from this file instead of .env")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the reconciler schedule",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd, envFile)
			},
		},
		newReconcileCmd(&envFile),
		newEventsCmd(&envFile),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "proservice %s (%s)\n", Version, GitCommit)
			},
		},
	)
	return root
}

// setup loads configuration and builds the server without starting it.
func setup(cmd *cobra.Command, envFile string) (*server.Server, *slog.Logger, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return nil, nil, err
	}

	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	srv, err := server.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return srv, logger, nil
}

func runServe(cmd *cobra.Command, envFile string) error {
	srv, logger, err := setup(cmd, envFile)
	if err != nil {
		return err
	}
	defer srv.Close()

	logger.Info("proservice starting", slog.String("version", Version))
	return srv.Run(cmd.Context())
}

func newReconcileCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reprocess failed and unmatched billing events once",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, _, err := setup(cmd, *envFile)
			if err != nil {
				return err
			}
			defer srv.Close()

			report, err := srv.Reconciler().Run(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newEventsCmd(envFile *string) *cobra.Command {
	var (
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List billing events from the local event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			want, err := parseStatuses(statuses)
			if err != nil {
				return err
			}

			srv, _, err := setup(cmd, *envFile)
			if err != nil {
				return err
			}
			defer srv.Close()

			events, err := srv.Reconciler().Pending(cmd.Context(), want, limit)
			if err != nil {
				return err
			}
			return printEvents(cmd, events)
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", []string{"unmatched", "failed"}, "statuses to list")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}

func parseStatuses(in []string) ([]model.EventStatus, error) {
	out := make([]model.EventStatus, 0, len(in))
	for _, s := range in {
		st := model.EventStatus(strings.ToLower(strings.TrimSpace(s)))
		switch st {
		case model.EventReceived, model.EventProcessed, model.EventIgnored, model.EventUnmatched, model.EventFailed:
			out = append(out, st)
		default:
			return nil, fmt.Errorf("unknown event status %q", s)
		}
	}
	return out, nil
}

func printEvents(cmd *cobra.Command, events []model.BillingEvent) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tUSER\tATTEMPTS\tRECEIVED\tNOTE")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Type, e.Status, e.UserID, e.Attempts,
			e.ReceivedAt.Format("2006-01-02 15:04:05"), e.Note)
	}
	return tw.Flush()
}
