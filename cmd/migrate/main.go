package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"analytical/internal/audit"
	"analytical/internal/config"
	"analytical/internal/db"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadMigrate()
	if err != nil {
		fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer pool.Close()

	recorder := audit.NewDBRecorder(pool)

	switch strings.TrimSpace(os.Args[1]) {
	case "up":
		if err := recorder.EnsureSchema(ctx); err != nil {
			fatalf("apply audit schema: %v", err)
		}
		fmt.Println("audit schema up to date")
	case "status":
		ready, err := recorder.SchemaReady(ctx)
		if err != nil {
			fatalf("check audit schema: %v", err)
		}
		if ready {
			fmt.Println("audit schema: present")
		} else {
			fmt.Println("audit schema: missing (run `migrate up`)")
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  go run ./cmd/migrate up")
	fmt.Fprintln(os.Stderr, "  go run ./cmd/migrate status")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
