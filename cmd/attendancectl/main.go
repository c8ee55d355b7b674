package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/log"
	"qrattend/internal/session"
	"qrattend/internal/store"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "attendancectl",
	Short: "Operate the QR attendance service",
	Long: `attendancectl runs one-off administrative tasks against the attendance store:
schema migration, roster seeding, counter rebuilds, registers and session codes.

Configuration is read from the same environment variables as the api server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		level := log.WarnLevel
		if verbose {
			level = log.DebugLevel
		}
		log.Init(log.Config{Level: level, Output: os.Stderr})
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("attendancectl version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(teacherTokenCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(sessionCmd)

	teacherTokenCmd.Flags().String("name", "teacher", "Token subject")
	teacherTokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default ACCESS_TTL)")

	rebuildCmd.Flags().StringP("subject", "s", "", "Subject to rebuild (required)")
	_ = rebuildCmd.MarkFlagRequired("subject")

	registerCmd.Flags().StringP("subject", "s", "", "Subject (required)")
	_ = registerCmd.MarkFlagRequired("subject")

	sessionCmd.Flags().String("date", "", "Session date, YYYY-MM-DD (default today)")
	sessionCmd.Flags().StringP("subject", "s", "", "Subject (required)")
	sessionCmd.Flags().StringP("out", "o", "", "Write the QR code PNG to this file")
	_ = sessionCmd.MarkFlagRequired("subject")
}

func loadConfig() (config.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.App{}, err
	}
	return cfg, cfg.Validate()
}

// withBackend opens the configured store for the duration of fn.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, b store.Backend) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	b, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables and unique indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b store.Backend) error {
			if err := b.Migrate(ctx); err != nil {
				return err
			}
			fmt.Println("✓ Schema up to date")
			return nil
		})
	},
}

var teacherTokenCmd = &cobra.Command{
	Use:   "teacher-token",
	Short: "Mint a bearer token for the teacher endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = cfg.AccessTTL
		}
		tok, err := auth.Issue(name, auth.RoleTeacher, cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok.AccessToken)
		fmt.Fprintf(os.Stderr, "expires %s\n", tok.AccessExp.Format(time.RFC3339))
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-counters",
	Short: "Recompute a subject's counters from the attendance records",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		return withBackend(cmd, func(ctx context.Context, b store.Backend) error {
			if err := attendance.NewLedger(b, b).RebuildCounters(ctx, subject); err != nil {
				return err
			}
			fmt.Printf("✓ Counters rebuilt for %s\n", subject)
			return nil
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Print a subject's attendance register as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		return withBackend(cmd, func(ctx context.Context, b store.Backend) error {
			reg, err := attendance.NewLedger(b, b).Register(ctx, subject)
			if err != nil {
				return err
			}
			return printJSON(reg)
		})
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Mint a session code and optionally write its QR image",
	Long: `Mint a session code for one class without going through the api server.

Examples:
  # Print the ticket as JSON
  attendancectl session --subject Math

  # Write the QR code for a given day
  attendancectl session --date 2024-03-01 --subject Math --out math.png`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rawDate, _ := cmd.Flags().GetString("date")
		subject, _ := cmd.Flags().GetString("subject")
		out, _ := cmd.Flags().GetString("out")

		date := attendance.NormalizeDate(time.Now())
		if rawDate != "" {
			if date, err = attendance.ParseDate(rawDate); err != nil {
				return err
			}
		}
		iss, err := session.NewIssuer(session.Config{
			SigningKey: cfg.SessionSigningKey,
			TTL:        cfg.SessionTTL,
			BaseURL:    cfg.BaseURL,
		})
		if err != nil {
			return err
		}
		ticket, err := iss.Issue(date, subject)
		if err != nil {
			return err
		}
		if out != "" {
			png, err := session.RenderPNG(ticket.URL, 0)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(os.Stderr, "✓ QR code written to %s\n", out)
		}
		return printJSON(ticket)
	},
}
