package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"chatgate/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your chatgate installation",
		Long: `Verifies that chatgate's configuration, storage, media database, and
browser dependencies are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("chatgate doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'chatgate init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Storage directory writable
			if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
				printFail("Storage dir", err.Error())
				failed++
			} else {
				printPass("Storage dir", cfg.Storage.Dir)
				passed++
			}

			// 4. Media database writable
			if err := checkDatabase(cfg.Media.DBPath); err != nil {
				printFail("Media database", err.Error())
				failed++
			} else {
				printPass("Media database", cfg.Media.DBPath)
				passed++
			}

			// 5. Webhook subscription directory
			if _, err := os.Stat(cfg.Webhooks.Dir); err != nil {
				printWarn("Webhook dir", fmt.Sprintf("not found: %s (no subscriptions will load)", cfg.Webhooks.Dir))
				warned++
			} else {
				printPass("Webhook dir", cfg.Webhooks.Dir)
				passed++
			}

			// 6. Gateway port available
			if err := checkPort(cfg.Gateway.Port); err != nil {
				printWarn("Gateway port", fmt.Sprintf("port %d may be in use: %v", cfg.Gateway.Port, err))
				warned++
			} else {
				printPass("Gateway port", fmt.Sprintf(":%d available", cfg.Gateway.Port))
				passed++
			}

			// 7. Chrome binary, needed by the webclient engine
			if chrome := findChrome(); chrome == "" {
				printWarn("Chrome binary", "not found (webclient sessions will not start)")
				warned++
			} else {
				printPass("Chrome binary", chrome)
				passed++
			}

			// 8. Engine credentials present
			engineCount := 1 // webclient is always available
			if cfg.Engines.Telegram.Token != "" {
				printPass("Engine: telegram", "token configured")
				passed++
				engineCount++
			}
			if cfg.Engines.CloudAPI.PhoneNumberID != "" {
				if cfg.Engines.CloudAPI.AccessToken == "" {
					printWarn("Engine: cloudapi", "phoneNumberId set but accessToken missing")
					warned++
				} else {
					printPass("Engine: cloudapi", "credentials configured")
					passed++
				}
				engineCount++
			}
			if cfg.Engines.Discord.Token != "" {
				printPass("Engine: discord", "token configured")
				passed++
				engineCount++
			}
			printPass("Engines", fmt.Sprintf("%d available", engineCount))
			passed++

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running chatgate.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nchatgate should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! chatgate is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

// findChrome looks for a usable Chrome or Chromium binary on PATH.
func findChrome() string {
	for _, name := range []string{
		"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
