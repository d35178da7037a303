// Package main seeds the notification user directory from a YAML fixture and
// optionally prints development tokens for the seeded users.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"peaceseal.io/herald/internal/api/middleware"
	"peaceseal.io/herald/internal/app/modules"
	"peaceseal.io/herald/internal/config"
	"peaceseal.io/herald/internal/infrastructure"
	"peaceseal.io/herald/internal/notification"
	"peaceseal.io/herald/internal/pkg/logger"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

// fixture is the seed file layout.
type fixture struct {
	Users []notification.User `yaml:"users"`
}

var knownRoles = map[string]bool{
	notification.RoleUser:       true,
	notification.RoleModerator:  true,
	notification.RoleAdmin:      true,
	notification.RoleSuperAdmin: true,
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("file", "seed.yaml", "YAML fixture with the users to upsert")
	tokens := fs.Bool("tokens", false, "print a development JWT for every seeded user")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	users, err := parseFixture(raw)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	if err := seedUsers(ctx, notification.NewPostgresDirectory(db.Pool), users); err != nil {
		return err
	}
	logger.Info("Data seeding completed successfully", zap.Int("users", len(users)))

	if *tokens {
		return printTokens(out, modules.JWTConfig(cfg), users)
	}
	return nil
}

// parseFixture decodes and validates the fixture. Ids must be unique and
// roles must be platform roles.
func parseFixture(raw []byte) ([]notification.User, error) {
	var f fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if len(f.Users) == 0 {
		return nil, errors.New("fixture has no users")
	}

	seen := make(map[string]bool, len(f.Users))
	users := make([]notification.User, 0, len(f.Users))
	for i, u := range f.Users {
		u.ID = strings.TrimSpace(u.ID)
		u.Email = strings.TrimSpace(u.Email)
		if u.ID == "" {
			return nil, fmt.Errorf("users[%d]: id is required", i)
		}
		if u.Role == "" {
			u.Role = notification.RoleUser
		}
		if !knownRoles[u.Role] {
			return nil, fmt.Errorf("users[%d]: unknown role %q", i, u.Role)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("users[%d]: duplicate id %q", i, u.ID)
		}
		seen[u.ID] = true
		users = append(users, u)
	}
	return users, nil
}

func seedUsers(ctx context.Context, directory notification.Directory, users []notification.User) error {
	for _, u := range users {
		if err := directory.Upsert(ctx, u); err != nil {
			return fmt.Errorf("upsert user %s: %w", u.ID, err)
		}
		logger.Info("Seeded user", zap.String("user_id", u.ID), zap.String("role", u.Role))
	}
	return nil
}

func printTokens(out io.Writer, cfg middleware.JWTConfig, users []notification.User) error {
	for _, u := range users {
		token, expiresAt, err := middleware.GenerateToken(cfg, u.ID, u.Role)
		if err != nil {
			return fmt.Errorf("mint token for %s: %w", u.ID, err)
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", u.ID, u.Role, expiresAt.UTC().Format("2006-01-02T15:04:05Z"), token); err != nil {
			return err
		}
	}
	return nil
}
