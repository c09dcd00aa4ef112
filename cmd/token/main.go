// Command token mints an access token for local development, signed with
// JWT_SECRET from the environment or .env.
//
//	go run ./cmd/token -sub U1 -role CUSTOMER -ttl 1h
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/seat-inventory/internal/utils"
)

func main() {
	sub := flag.String("sub", "", "token subject (holder id)")
	role := flag.String("role", "CUSTOMER", "CUSTOMER, ADMIN or SERVICE")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(2)
	}

	tok, err := utils.NewAccessToken(secret, *sub, strings.ToUpper(*role), *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
