// Command hashpw prints the Argon2id encoding of a password using the configured
// parameters, for seeding principals.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hoale240803/kaopiz-sub000/internal/infra/config"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/security"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		log.Fatalf("invalid argon2 settings: %v", err)
	}

	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && password == "" {
		log.Fatalf("read password from stdin: %v", err)
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		log.Fatal("password must not be empty")
	}

	encoded, err := hasher.Hash(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	fmt.Println(encoded)
}
