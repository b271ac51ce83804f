// Package main provides a CLI tool for seeding the database with the
// initial admin user.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	appctx "partnerpay/internal/core/context"
	"partnerpay/internal/domain/auth"
	"partnerpay/internal/infrastructure/storage/postgres"
	"partnerpay/internal/infrastructure/storage/postgres/auth_repo"
	"partnerpay/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dbURL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	txManager := postgres.NewTxManager(pool)
	userRepo := auth_repo.NewUserRepo(txManager)

	email := getEnv("ADMIN_EMAIL", "admin@partnerpay.local")
	password := getEnv("ADMIN_PASSWORD", "admin12345")

	exists, err := userRepo.Exists(ctx, email)
	if err != nil {
		log.Fatalw("failed to check admin user", "error", err)
	}
	if exists {
		log.Infow("admin user already exists", "email", email)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalw("failed to hash password", "error", err)
	}

	admin := auth.NewUser(email, string(hash))
	admin.FullName = "Administrator"
	admin.Roles = []string{appctx.RoleAdmin}
	admin.IsAdmin = true

	if err := userRepo.Create(ctx, admin); err != nil {
		log.Fatalw("failed to create admin user", "error", err)
	}

	log.Infow("admin user created", "email", email, "id", admin.ID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
