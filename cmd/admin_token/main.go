// Command admin_token mints an operator access token for the admin API.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"paycore/internal/config"
	"paycore/internal/models"
	"paycore/internal/utils"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()

	userID := flag.Uint("user", 0, "operator user id")
	email := flag.String("email", "", "operator email")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == 0 {
		log.Fatal("-user must be set")
	}
	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET must be set in environment")
	}

	token, err := utils.GenerateToken(cfg.JWT.Secret, cfg.JWT.Issuer, &models.UserClaims{
		UserID: *userID,
		Email:  *email,
		Role:   models.RoleAdmin,
	}, *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
