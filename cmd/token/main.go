// Command token mints relay credentials for local testing.
//
//	token -genkey
//	token -site shop1 -role visitor -sub v-123 -secret $AUTH_HMAC_SECRET
//	token -site shop1 -role admin -sub alice -name Alice -key <private-key-base64>
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/arinzecomie/livechat-relay/internal/auth"
	"github.com/arinzecomie/livechat-relay/internal/crypto"
	"github.com/arinzecomie/livechat-relay/internal/models"
)

func main() {
	_ = godotenv.Load()

	genKey := flag.Bool("genkey", false, "Generate an Ed25519 key pair and exit")
	siteID := flag.String("site", "", "Site ID")
	role := flag.String("role", "visitor", "visitor or admin")
	subject := flag.String("sub", "", "Visitor or admin identity (default: random)")
	name := flag.String("name", "", "Display name")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	secret := flag.String("secret", os.Getenv("AUTH_HMAC_SECRET"), "HMAC secret (HS256)")
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key (EdDSA)")
	issuer := flag.String("issuer", os.Getenv("AUTH_ISSUER"), "Token issuer")
	flag.Parse()

	if *genKey {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			fail("generate key: %v", err)
		}
		fmt.Printf("AUTH_PUBLIC_KEY=%s\n", base64.StdEncoding.EncodeToString(pub))
		fmt.Printf("Private key (base64): %s\n", base64.StdEncoding.EncodeToString(priv))
		return
	}

	if *siteID == "" {
		fmt.Fprintln(os.Stderr, "Usage: token -site <site-id> [-role visitor|admin] [-sub <identity>] [-secret <hmac> | -key <ed25519-base64>]")
		fmt.Fprintln(os.Stderr, "       token -genkey")
		os.Exit(1)
	}

	r := models.Role(*role)
	if !r.Valid() {
		fail("unknown role %q", *role)
	}
	if *subject == "" {
		*subject = crypto.NewID(string(r))
	}

	var key any
	switch {
	case *privKeyB64 != "":
		priv, err := crypto.ParsePrivateKey(*privKeyB64)
		if err != nil {
			fail("%v", err)
		}
		key = priv
	case *secret != "":
		key = []byte(*secret)
	default:
		fail("one of -secret or -key is required")
	}

	claims := auth.NewClaims(models.Principal{
		SiteID:      *siteID,
		Role:        r,
		Identity:    *subject,
		DisplayName: *name,
	}, *issuer, time.Now(), *ttl)

	token, err := auth.Sign(claims, key)
	if err != nil {
		fail("sign: %v", err)
	}
	fmt.Println(token)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
