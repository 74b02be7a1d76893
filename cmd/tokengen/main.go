package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/af-corp/persona-gateway/internal/auth"
)

func main() {
	name := flag.String("name", "", "human-friendly token name (required)")
	env := flag.String("env", "prod", "environment prefix")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -name is required")
		os.Exit(1)
	}

	token, err := auth.GenerateToken(*env)
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}

	dur, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}
	expiresAt := time.Now().Add(dur)

	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		host := envOrDefault("DB_HOST", "localhost")
		port := envOrDefault("DB_PORT", "5432")
		u := envOrDefault("DB_USER", "persona")
		pass := envOrDefault("DB_PASSWORD", "persona-dev")
		dbname := envOrDefault("DB_NAME", "persona")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", u, pass, host, port, dbname)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	id, err := auth.InsertToken(ctx, conn, token, *name, expiresAt)
	if err != nil {
		log.Fatalf("failed to store token: %v", err)
	}

	fmt.Println("=== Persona Gateway Token ===")
	fmt.Println()
	fmt.Printf("  Token ID:     %s\n", id)
	fmt.Printf("  Token Prefix: %s\n", auth.TokenPrefix(token))
	fmt.Printf("  Name:         %s\n", *name)
	fmt.Printf("  Expires:      %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Token (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", token)
	fmt.Println()
	fmt.Println("=============================")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
