// Package main issues identity tokens for local development, signed with the
// same CERTIFIER_JWT_* settings the server reads.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"certifier/internal/platform/config"
	"certifier/internal/platform/identity"
	id "certifier/pkg/domain"
	"certifier/pkg/requestcontext"
)

func main() {
	var (
		userID string
		name   string
		email  string
		role   string
		ttl    time.Duration
	)
	flag.StringVar(&userID, "user", "", "user id (default: random)")
	flag.StringVar(&name, "name", "Dev Applicant", "display name")
	flag.StringVar(&email, "email", "applicant@example.com", "email address")
	flag.StringVar(&role, "role", string(id.RoleApplicant), "applicant or reviewer")
	flag.DurationVar(&ttl, "ttl", 0, "token lifetime (default: CERTIFIER_JWT_TOKEN_TTL)")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fail(err)
	}
	if userID == "" {
		userID = uuid.NewString()
	}
	uid, err := id.ParseUserID(userID)
	if err != nil {
		fail(err)
	}
	parsedRole, err := id.ParseRole(role)
	if err != nil {
		fail(err)
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	tokens := identity.NewService(cfg.Auth.SigningKey, cfg.Auth.Issuer, ttl)
	token, err := tokens.Issue(requestcontext.Caller{UserID: uid, Name: name, Email: email, Role: parsedRole})
	if err != nil {
		fail(err)
	}
	fmt.Println(token)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
