package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/fiifi-auth/internal/app"
	"github.com/iliyamo/fiifi-auth/internal/auth"
	"github.com/iliyamo/fiifi-auth/internal/config"
	"github.com/iliyamo/fiifi-auth/internal/model"
	"github.com/iliyamo/fiifi-auth/internal/queue"
)

func newRootCommand() *cobra.Command {
	serve := newServeCommand()
	root := &cobra.Command{
		Use:           "authd",
		Short:         "Authentication and session service",
		Long:          "authd verifies credentials, issues access and refresh tokens and manages login sessions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve, newSweepCommand(), newAuditConsumerCommand(), newCreateUserCommand())
	return root
}

// withApp opens the App for the duration of fn.
func withApp(ctx context.Context, fn func(*app.App) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := config.NewLogger(cfg.LogLevel)
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Warn("close failed", "error", cerr)
		}
	}()
	return fn(a)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func newSweepCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions",
		Long:  "Delete expired sessions once, or every --interval until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app.App) error {
				n, err := a.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired sessions\n", n)
				if interval <= 0 {
					return nil
				}
				t := time.NewTicker(interval)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-t.C:
						if _, err := a.Sweep(ctx); err != nil {
							a.Log.Error("sweep failed", "operation", "sweep", "outcome", "error", "error", err)
						}
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat the sweep at this interval (0 runs once)")
	return cmd
}

func newAuditConsumerCommand() *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "audit-consumer",
		Short: "Append auth events from RabbitMQ to an audit log file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.RabbitURL == "" {
				return errors.New("RABBITMQ_URL must be set for the audit consumer")
			}
			log := config.NewLogger(cfg.LogLevel)
			log.Info("audit consumer started", "queue", queue.AuthEventsQueue, "file", logFile)
			err = queue.StartAuditConsumer(cmd.Context(), cfg.RabbitURL, logFile, log)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", queue.DefaultAuditLog, "audit log file to append to")
	return cmd
}

func newCreateUserCommand() *cobra.Command {
	var (
		in   auth.NewUser
		role string
	)
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a local user with a hashed password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Role = model.Role(role)
			return withApp(cmd.Context(), func(a *app.App) error {
				u, err := a.Service.CreateUser(cmd.Context(), in)
				if err != nil {
					if detail := auth.ValidationDetail(err); detail != "" {
						return fmt.Errorf("create user: %s", detail)
					}
					return fmt.Errorf("create user: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s, role=%s)\n", u.ID, u.Email, u.Role)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Email, "email", "", "email address (required)")
	f.StringVar(&in.Password, "password", "", "password, at least 8 characters (required)")
	f.StringVar(&in.Username, "username", "", "username (defaults to the email local part)")
	f.StringVar(&in.FirstName, "first-name", "", "first name")
	f.StringVar(&in.LastName, "last-name", "", "last name")
	f.StringVar(&role, "role", string(model.RoleUser), "admin | user | investor")
	f.BoolVar(&in.IsEmailVerified, "verified", false, "mark the email address as verified")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
