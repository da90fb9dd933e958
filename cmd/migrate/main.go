// migrate runs session schema migrations from embedded SQL; use with go run ./cmd/migrate.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"estatedesk/cmd/internal/db/migrate"

	gomigrate "github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Number of migrations to apply (0 = all)")
	showVersion := flag.Bool("version", false, "Print the applied schema version and exit")
	flag.Parse()

	// Optional .env; real environment wins.
	_ = godotenv.Load()

	dsn := strings.TrimSpace(os.Getenv("ESTATE_DATABASE_URL"))
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "ESTATE_DATABASE_URL is not set; create a .env or export it")
		os.Exit(1)
	}

	if *showVersion {
		v, dirty, err := migrate.Version(dsn)
		if errors.Is(err, gomigrate.ErrNilVersion) {
			fmt.Println("version: none")
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		fmt.Printf("version: %d dirty: %t\n", v, dirty)
		return
	}

	if err := migrate.Run(dsn, migrate.Options{Direction: *direction, Steps: *steps}); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			// Already at target version; success.
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
