package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"qrattend/internal/attendance"
	"qrattend/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed ROSTER",
	Short: "Enroll students from a YAML roster",
	Long: `Enroll students listed in a YAML roster. Students already enrolled are left untouched.
A missing password defaults to the student ID.

Example roster:
  students:
    - id: S100
      name: Ada Lovelace
      password: secret
    - id: S101
      name: Grace Hopper`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to read roster: %w", err)
		}
		defer f.Close()
		roster, err := parseRoster(f)
		if err != nil {
			return err
		}
		return withBackend(cmd, func(ctx context.Context, b store.Backend) error {
			if err := b.Migrate(ctx); err != nil {
				return err
			}
			created, skipped, err := seed(ctx, attendance.NewLedger(b, b), roster)
			if err != nil {
				return err
			}
			fmt.Printf("✓ %d enrolled, %d already present\n", created, skipped)
			return nil
		})
	},
}

// Roster is the YAML seed document.
type Roster struct {
	Students []RosterEntry `yaml:"students"`
}

type RosterEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Password string `yaml:"password,omitempty"`
}

func parseRoster(r io.Reader) (Roster, error) {
	var roster Roster
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&roster); err != nil {
		return Roster{}, fmt.Errorf("failed to parse roster: %w", err)
	}
	seen := make(map[string]bool, len(roster.Students))
	for i, st := range roster.Students {
		id := strings.TrimSpace(st.ID)
		if id == "" || strings.TrimSpace(st.Name) == "" {
			return Roster{}, fmt.Errorf("roster entry %d: id and name are required", i+1)
		}
		if seen[id] {
			return Roster{}, fmt.Errorf("roster entry %d: duplicate id %s", i+1, id)
		}
		seen[id] = true
	}
	return roster, nil
}

type enroller interface {
	Enroll(ctx context.Context, studentID, name, password string) (bool, error)
}

func seed(ctx context.Context, l enroller, roster Roster) (created, skipped int, err error) {
	for _, st := range roster.Students {
		ok, err := l.Enroll(ctx, st.ID, st.Name, st.Password)
		if err != nil {
			return created, skipped, fmt.Errorf("enroll %s: %w", st.ID, err)
		}
		if ok {
			created++
		} else {
			skipped++
		}
	}
	return created, skipped, nil
}
