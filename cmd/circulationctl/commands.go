package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/database"
	"github.com/iliyamo/library-circulation/internal/lock"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// openEngine connects to MySQL and builds an engine with the configured
// policy.  Notifications are not sent from the CLI.
func openEngine() (*circulation.Engine, func(), error) {
	cfg := config.Load()
	if cfg.StoreDriver != "mysql" {
		return nil, nil, fmt.Errorf("store driver %q has no state to operate on", cfg.StoreDriver)
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, nil, err
	}
	policy := config.LoadPolicy()
	var locker lock.Locker = lock.NewLocal()
	rdb, rerr := config.LoadRedisConfig().Connect(context.Background())
	if rerr == nil {
		locker = lock.NewRedis(rdb, "circulation:lock", policy.LockTTL)
	}
	engine, err := circulation.New(circulation.Deps{
		Store:        repository.NewStore(db),
		Locker:       locker,
		Entitlements: repository.NewSubscriptionRepo(db),
		Logger:       logging.New(cfg.LogLevel, cfg.LogFormat),
	}, policy)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	closeFn := func() {
		engine.Wait()
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = db.Close()
	}
	return engine, closeFn, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a periodic sweep once",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "overdue",
		Short: "Flag overdue loans and bring overdue fines up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()
			res, err := engine.RunOverdueSweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}, &cobra.Command{
		Use:   "reservations",
		Short: "Expire pickup holds past their deadline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := engine.ExpireOldReservations(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"expired": n})
		},
	})
	return cmd
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue <book-id>",
		Short: "Show the pickup hold and waiting list of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || bookID == 0 {
				return fmt.Errorf("invalid book id %q", args[0])
			}
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()
			q, err := engine.BookQueue(cmd.Context(), bookID)
			if err != nil {
				return err
			}
			return writeQueue(cmd.OutOrStdout(), q)
		},
	}
}

func writeQueue(w io.Writer, q []model.Reservation) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tRESERVATION\tUSER\tSTATUS\tRESERVED\tPICKUP BY")
	for _, r := range q {
		pos, until := "-", "-"
		if r.QueuePosition > 0 {
			pos = strconv.Itoa(int(r.QueuePosition))
		}
		if r.AvailableUntil != nil {
			until = r.AvailableUntil.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", pos, r.ID, r.UserID, r.Status,
			r.ReservedAt.Format(time.RFC3339), until)
	}
	return tw.Flush()
}

func tokenCmd() *cobra.Command {
	var (
		ttl    time.Duration
		secret string
	)
	cmd := &cobra.Command{
		Use:   "token <user-id> <MEMBER|LIBRARIAN>",
		Short: "Mint an access token for local testing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || uid == 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			role := args[1]
			if role != model.RoleMember && role != model.RoleLibrarian {
				return fmt.Errorf("unknown role %q", role)
			}
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set; pass --secret")
			}
			tok, err := utils.NewAccessToken(secret, uid, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to $JWT_SECRET)")
	return cmd
}

func migrateCmd() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded MySQL schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printOnly {
				_, err := fmt.Fprint(cmd.OutOrStdout(), database.Schema())
				return err
			}
			cfg := config.Load()
			db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the schema instead of applying it")
	return cmd
}
