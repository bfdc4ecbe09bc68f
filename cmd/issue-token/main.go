// Command issue-token prints an access token for an existing member. Development only.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/timebank/timebank-api/internal/config"
	"github.com/timebank/timebank-api/internal/pkg/database"
	"github.com/timebank/timebank-api/internal/pkg/jwt"
)

func main() {
	email := flag.String("email", "", "member email")
	fresh := flag.Bool("new", false, "issue a token for a new random member id, for POST /members")
	flag.Parse()

	cfg := config.Load()
	if cfg.IsProduction() {
		log.Fatal("issue-token is disabled in production")
	}
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	if *fresh {
		id := uuid.New()
		token, err := jwtService.GenerateAccessToken(id, jwt.RoleMember)
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		fmt.Printf("member_id: %s\ntoken: %s\n", id, token)
		return
	}

	if *email == "" {
		log.Fatal("either -email or -new is required")
	}

	db, err := database.NewPostgres(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.ClosePostgres(db)

	var m struct {
		ID         uuid.UUID `db:"id"`
		Role       string    `db:"role"`
		IsApproved bool      `db:"is_approved"`
	}
	if err := db.Get(&m, `SELECT id, role, is_approved FROM members WHERE email = $1`, *email); err != nil {
		log.Fatalf("Failed to find member %s: %v", *email, err)
	}

	token, err := jwtService.GenerateAccessToken(m.ID, m.Role)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Printf("member_id: %s\nrole: %s\napproved: %t\ntoken: %s\n", m.ID, m.Role, m.IsApproved, token)
}
