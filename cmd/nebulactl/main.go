// cmd/nebulactl/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/logger"
	"github.com/Annany2002/nebula-gateway/internal/storage"
)

var (
	customLog = logger.NewLogger()
)

// nebulactl seeds the metadata database: admin users, database descriptors,
// API keys and permission rules. It reads the same environment as the server.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		customLog.Fatalf("Failed to load configuration: %v", err)
	}
	metaDB, err := storage.ConnectMetadataDB(cfg)
	if err != nil {
		customLog.Fatalf("Failed to initialize metadata database: %v", err)
	}

	err = run(context.Background(), metaDB, os.Args[1:], os.Stdout)
	metaDB.Close()
	if err != nil {
		customLog.Errorf("%s: %v", os.Args[1], err)
		os.Exit(1)
	}
}
