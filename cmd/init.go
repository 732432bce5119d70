// Package cmd provides command-line interface commands for redtrace.
package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"redtrace/config"
	"redtrace/core"
	"redtrace/mitre"
	"redtrace/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

var (
	initAdminUsername string
	initAdminPassword string
	initMitrePath     string
)

// NewInitCmd builds the first-run initialization command: it creates the
// initial admin account when the user table is empty and seeds the ATT&CK
// taxonomy when none is loaded. Re-running against an initialized database
// is a no-op.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the database with an admin account and the ATT&CK taxonomy",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runInit()
		},
	}

	cmd.Flags().StringVar(&initAdminUsername, "admin-username", "admin", "Username for the initial admin account")
	cmd.Flags().StringVar(&initAdminPassword, "admin-password", "", "Password for the initial admin account (generated when empty)")
	cmd.Flags().StringVar(&initMitrePath, "mitre-bundle", "", "Path to the ATT&CK taxonomy bundle (defaults to the configured path)")
	return cmd
}

func runInit() error {
	cfg, err := config.LoadConfig("")
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		errorColor.Fprintf(os.Stderr, "%v\n", err)
		return err
	}

	logger := zap.NewNop().Sugar()
	sqlite, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, logger)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return err
	}
	defer sqlite.Close()

	users := storage.NewSQLiteUserStorage(sqlite, logger)
	mitreStore := storage.NewSQLiteMitreStorage(sqlite, logger)

	infoColor.Printf("Initializing %s\n", cfg.DataPaths.SQLitePath)

	if err := seedAdmin(users, cfg); err != nil {
		return err
	}
	if err := seedTaxonomy(mitreStore, cfg, logger); err != nil {
		return err
	}

	successColor.Println("Initialization complete")
	return nil
}

// seedAdmin creates the first admin account when no users exist
func seedAdmin(users *storage.SQLiteUserStorage, cfg *config.Config) error {
	count, err := users.CountUsers()
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to count users: %v\n", err)
		return err
	}
	if count > 0 {
		infoColor.Printf("Users already present (%d), skipping admin creation\n", count)
		return nil
	}

	password := initAdminPassword
	generated := false
	if password == "" {
		password, err = generatePassword()
		if err != nil {
			errorColor.Fprintf(os.Stderr, "Failed to generate password: %v\n", err)
			return err
		}
		generated = true
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.Auth.BcryptCost)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to hash password: %v\n", err)
		return err
	}

	now := time.Now().UTC()
	admin := &core.User{
		Username:     initAdminUsername,
		PasswordHash: string(hash),
		Role:         core.RoleAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.CreateUser(admin); err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to create admin user: %v\n", err)
		return err
	}

	successColor.Printf("Created admin account %q\n", admin.Username)
	if generated {
		warningColor.Printf("Generated admin password: %s\n", password)
		warningColor.Println("Store it now; it will not be shown again.")
	}
	return nil
}

// seedTaxonomy imports the ATT&CK bundle when the taxonomy table is empty
func seedTaxonomy(mitreStore *storage.SQLiteMitreStorage, cfg *config.Config, logger *zap.SugaredLogger) error {
	count, err := mitreStore.CountTechniques()
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to count taxonomy techniques: %v\n", err)
		return err
	}
	if count > 0 {
		infoColor.Printf("Taxonomy already present (%d techniques), skipping import\n", count)
		return nil
	}

	path := initMitrePath
	if path == "" {
		path = cfg.DataPaths.MitreBundlePath
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		warningColor.Printf("No taxonomy bundle at %s, skipping import\n", path)
		return nil
	}

	loader := mitre.NewLoader(logger)
	bundle, err := loader.LoadBundle(path)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to load taxonomy bundle: %v\n", err)
		return err
	}
	if err := mitreStore.ImportBundle(bundle); err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to import taxonomy bundle: %v\n", err)
		return err
	}

	successColor.Printf("Imported taxonomy: %d tactics, %d techniques, %d sub-techniques\n",
		len(bundle.Tactics), len(bundle.Techniques), len(bundle.SubTechniques))
	return nil
}

// generatePassword returns a random URL-safe password
func generatePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}
