package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"loja/backend/internal/backup"
	"loja/backend/internal/config"
	"loja/backend/internal/domain"
	"loja/backend/internal/httpapi"
	"loja/backend/internal/service"
)

const commandTimeout = 2 * time.Minute

func newBackupCommand(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore JSON backups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Write a backup of all business data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(cmd.Context(), *envFile, true, func(ctx context.Context, app backupApp) error {
				file, err := app.backups.Create(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d bytes)\n", file.Name, file.SizeBytes)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(cmd.Context(), *envFile, false, func(ctx context.Context, app backupApp) error {
				files, err := app.backups.List()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSIZE\tCREATED")
				for _, f := range files {
					fmt.Fprintf(w, "%s\t%d\t%s\n", f.Name, f.SizeBytes, f.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <name>",
		Short: "Replace all business data with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(cmd.Context(), *envFile, true, func(ctx context.Context, app backupApp) error {
				if err := app.backups.Restore(ctx, args[0]); err != nil {
					return err
				}
				if err := resetCarts(ctx, app.cfg, app.log); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

// withBackups opens the backup manager. Listing only reads the backup directory,
// so it does not need the database.
func withBackups(parent context.Context, envFile string, needDB bool, fn func(ctx context.Context, app backupApp) error) error {
	cfg, log, err := bootstrap(envFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(contextOrBackground(parent), commandTimeout)
	defer cancel()

	if !needDB {
		return fn(ctx, backupApp{cfg: cfg, log: log, backups: backup.NewManager(cfg.BackupDir, nil, log)})
	}
	repo, closeRepo, err := openRepository(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer closeRepo()
	return fn(ctx, backupApp{cfg: cfg, log: log, backups: backup.NewManager(cfg.BackupDir, repo, log)})
}

type backupApp struct {
	cfg     config.Config
	log     *zap.Logger
	backups *backup.Manager
}

// resetCarts drops the session carts held in Redis. In-memory carts live in the
// server process and are not reachable from here.
func resetCarts(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if cfg.RedisAddr == "" {
		return nil
	}
	carts, closeCarts := openCartStore(ctx, cfg, time.Duration(cfg.SessionTTLMinutes)*time.Minute, log)
	defer closeCarts()
	return carts.DeleteAll(ctx)
}

func newWipeCommand(envFile *string) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete all products, customers, combos and transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("refusing to wipe without --yes")
			}
			cfg, log, err := bootstrap(*envFile)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithTimeout(contextOrBackground(cmd.Context()), commandTimeout)
			defer cancel()

			repo, closeRepo, err := openRepository(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer closeRepo()

			carts, closeCarts := openCartStore(ctx, cfg, time.Duration(cfg.SessionTTLMinutes)*time.Minute, log)
			defer closeCarts()

			svc := service.New(repo, carts, log, service.Options{})
			if err := svc.Wipe(ctx); err != nil {
				return err
			}
			log.Warn("business data wiped from the command line")
			fmt.Fprintln(cmd.OutOrStdout(), "all business data deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the wipe")
	return cmd
}

func newUserCommand(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage login accounts",
	}

	var password, role string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a login account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(*envFile)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithTimeout(contextOrBackground(cmd.Context()), commandTimeout)
			defer cancel()

			repo, closeRepo, err := openRepository(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer closeRepo()

			auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.SessionTTLMinutes)*time.Minute, repo)
			user, err := auth.CreateUser(ctx, domain.UserCreateRequest{Username: args[0], Password: password, Role: role})
			if err != nil {
				return err
			}
			log.Info("user created", zap.String("username", user.Username), zap.String("role", user.Role))
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", user.Username, user.Role)
			return nil
		},
	}
	add.Flags().StringVar(&password, "password", "", "password for the new account")
	add.Flags().StringVar(&role, "role", domain.RoleStaff, "admin or staff")
	_ = add.MarkFlagRequired("password")
	cmd.AddCommand(add)

	return cmd
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
