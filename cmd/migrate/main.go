// migrate walks the enrollment store schema to the version this build
// expects; use before first run or after upgrading.
package main

import (
	"errors"
	"fmt"
	"os"

	"push-authenticator/sdk/internal/config"
	"push-authenticator/sdk/internal/db/migrate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DBPath, migrate.Target); err != nil {
		if errors.Is(err, migrate.ErrStorageAhead) {
			fmt.Fprintln(os.Stderr, "migrate: storage is newer than this build; upgrade the binary instead of migrating")
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
