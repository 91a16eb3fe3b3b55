// mktoken mints a development session token for fable-relay and
// optionally creates the save row it should grant access to. It reads
// the relay config for the signing secret and the database connection.
//
// Usage:
//
//	mktoken -user user-1                          # token only
//	mktoken -user user-1 -save save-1 -title "A Tale"
//	mktoken -user user-1 -ttl 15m -config ./relay.json
//	mktoken -gen-secret                           # fresh jwtSecret value
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fablehq/fable-relay/internal/auth"
	"github.com/fablehq/fable-relay/internal/config"
	"github.com/fablehq/fable-relay/internal/database"
	"github.com/fablehq/fable-relay/internal/save"
)

const tokenIssuer = "fable-relay"

func main() {
	configPath := flag.String("config", "relay.json", "Path to the relay config file")
	user := flag.String("user", "", "User id to mint the token for (required)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	saveID := flag.String("save", "", "Save id to create if missing (optional)")
	title := flag.String("title", "", "Title for a newly created save")
	genSecret := flag.Bool("gen-secret", false, "Print a fresh jwtSecret value and exit")
	flag.Parse()

	if *genSecret {
		fmt.Println(auth.GenerateSecret())
		return
	}
	if *user == "" {
		log.Fatal("Required flag: -user")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *saveID != "" {
		if err := ensureSave(ctx, cfg, *saveID, *user, *title); err != nil {
			log.Fatalf("Failed to ensure save %q: %v", *saveID, err)
		}
	}

	token, err := auth.NewManager(cfg.JWTSecret, tokenIssuer).Mint(*user, *ttl)
	if err != nil {
		log.Fatalf("Failed to mint token: %v", err)
	}

	fmt.Println("=== Session Token ===")
	fmt.Printf("User:    %s\n", *user)
	fmt.Printf("Expires: %s (%s)\n", time.Now().Add(*ttl).Format(time.RFC3339), *ttl)
	fmt.Println()
	fmt.Println(token)
	fmt.Println()

	connectSave := *saveID
	if connectSave == "" {
		connectSave = "<save_id>"
	}
	fmt.Println("Connect:")
	fmt.Printf("  wscat -H \"Authorization: Bearer %s\" \\\n", token)
	fmt.Printf("    \"ws://%s/v1/session?save_id=%s&resume_from=0&device_id=dev\"\n",
		hostAddr(cfg.ListenAddr), connectSave)
}

// ensureSave creates the save for the user if it does not exist yet.
// An existing save must belong to the user and not be deleted.
func ensureSave(ctx context.Context, cfg *config.Config, saveID, userID, title string) error {
	db, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	saves := save.NewPGStore(db)
	sv, err := saves.GetByID(ctx, saveID)
	switch {
	case errors.Is(err, save.ErrNotFound):
		if _, err := saves.Create(ctx, saveID, userID, title); err != nil {
			return err
		}
		log.Printf("Save created: %s (owner %s)", saveID, userID)
		return nil
	case err != nil:
		return err
	case sv.DeletedAt != nil:
		return fmt.Errorf("save %s is deleted", saveID)
	case sv.UserID != userID:
		return fmt.Errorf("save %s belongs to %s", saveID, sv.UserID)
	default:
		log.Printf("Save exists: %s (owner %s)", saveID, sv.UserID)
		return nil
	}
}

// hostAddr renders a dialable host for a listen address like ":8080".
func hostAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "localhost" + listen
	}
	return listen
}
