// keygen mints API client credentials. The composite key and signing
// secret print once; only digests reach the database.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/you/intake/internal/auth"
	"github.com/you/intake/internal/domain"
	"github.com/you/intake/internal/storage"
)

func main() {
	var (
		tenant       = flag.String("tenant", "", "owning tenant id")
		name         = flag.String("name", "", "client display name")
		webhookAuth  = flag.String("webhook-auth", "none", "callback auth scheme: none, api_key, bearer")
		webhookToken = flag.String("webhook-token", "", "credential for the callback auth scheme")
	)
	flag.Parse()
	if *tenant == "" || *name == "" {
		flag.Usage()
		os.Exit(2)
	}

	scheme := domain.AuthScheme(*webhookAuth)
	switch scheme {
	case domain.AuthNone, domain.AuthAPIKey, domain.AuthBearer:
	default:
		log.Fatalf("unknown webhook auth scheme %q", *webhookAuth)
	}

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	keyID, _, composite, secretHash, err := auth.MintKey()
	if err != nil {
		log.Fatal(err)
	}
	signing := make([]byte, 32)
	if _, err := rand.Read(signing); err != nil {
		log.Fatal(err)
	}
	signingSecret := hex.EncodeToString(signing)

	client := &domain.APIClient{
		TenantID:      *tenant,
		Name:          *name,
		KeyID:         keyID,
		SecretHash:    secretHash,
		SigningSecret: signingSecret,
		WebhookAuth:   scheme,
	}
	if *webhookToken != "" {
		client.WebhookToken = webhookToken
	}
	if err := storage.New(db).InsertClient(ctx, client); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("client id:       %s\n", client.ID)
	fmt.Printf("api key:         %s\n", composite)
	fmt.Printf("signing secret:  %s\n", signingSecret)
	fmt.Println("store these now; the key cannot be recovered")
}
