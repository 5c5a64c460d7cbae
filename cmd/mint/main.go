// Command mint prints a signed QR token for a ticket, for local testing
// and load scripts.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ticketgate/backend/internal/token"
)

func main() {
	ticketID := flag.String("ticket-id", "", "ticket id to embed (required)")
	eventID := flag.String("event-id", "", "event id to embed (required)")
	orgID := flag.String("org-id", "org_1", "organization id")
	ttl := flag.Int("ttl-minutes", 60, "token lifetime in minutes")
	flag.Parse()

	if *ticketID == "" || *eventID == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	secret := os.Getenv("TICKET_SIGNING_SECRET")
	if secret == "" {
		secret = "dev_secret_change_me"
		log.Printf("TICKET_SIGNING_SECRET not set, using dev secret")
	}

	raw, err := token.Mint([]byte(secret), *ticketID, *eventID, *orgID, time.Duration(*ttl)*time.Minute)
	if err != nil {
		log.Fatalf("mint: %v", err)
	}
	fmt.Println(raw)
}
