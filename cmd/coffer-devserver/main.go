// coffer-devserver - local backend for development and integration testing
// Serves the same REST ABI the hosted service exposes, with in-memory or
// S3-compatible blob storage.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/coffercloud/coffer/config"
	"github.com/coffercloud/coffer/crypto"
	"github.com/coffercloud/coffer/devserver"
	"github.com/coffercloud/coffer/logging"
	"github.com/coffercloud/coffer/storage"
)

func main() {
	var (
		addr     = flag.String("addr", ":8080", "Listen address")
		username = flag.String("seed-user", "", "Create a test account at startup")
		password = flag.String("seed-password", "", "Login password for the test account")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Storage error: %v\n", err)
		os.Exit(1)
	}

	srv := devserver.NewServer(blobs)
	if *username != "" {
		salt, err := crypto.GenerateSalt(crypto.MinSaltSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate salt: %v\n", err)
			os.Exit(1)
		}
		srv.RegisterUser(*username, *password, crypto.DefaultKdfParams(salt))
		logging.InfoLogger.Printf("Seeded account %s", *username)
	}

	logging.InfoLogger.Printf("Listening on %s (storage: %s)", *addr, cfg.Storage.Provider)
	if err := srv.Start(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func buildBlobStore(cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "s3":
		return storage.NewS3Store(context.Background(), storage.S3Config{
			Endpoint:        cfg.Storage.S3Endpoint,
			Region:          cfg.Storage.S3Region,
			AccessKeyID:     cfg.Storage.S3AccessKeyID,
			SecretAccessKey: cfg.Storage.S3SecretKey,
			BucketName:      cfg.Storage.S3BucketName,
			UsePathStyle:    cfg.Storage.S3UsePathStyle,
		})
	default:
		return storage.NewMemoryStore(), nil
	}
}
