// Command jobctl launches or inspects bot background jobs through the ops
// API, e.g. from cron:
//
//	jobctl -key ops-private.pem -kind backup
//	jobctl -key ops-private.pem -status <job-id>
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"bookshopbot/internal/servicetoken"
)

func main() {
	var (
		baseURL = flag.String("url", envOr("JOBCTL_URL", "http://localhost:8090"), "bot ops API base URL")
		keyPath = flag.String("key", os.Getenv("OPS_JWT_PRIVATE_KEY_PATH"), "RSA private key (PEM) for signing")
		keyID   = flag.String("kid", envOr("OPS_JWT_KEY_ID", servicetoken.DefaultKeyID), "signing key id")
		issuer  = flag.String("issuer", "jobctl", "token issuer")
		kind    = flag.String("kind", "", "job kind to launch: scrape, backup, export_excel, export_csv")
		status  = flag.String("status", "", "job id to inspect instead of launching")
	)
	flag.Parse()

	if (*kind == "") == (*status == "") {
		fmt.Fprintln(os.Stderr, "usage: jobctl -key <pem> (-kind <kind> | -status <job-id>)")
		os.Exit(2)
	}

	signer, err := servicetoken.NewSignerWithOptions(servicetoken.SignerOptions{
		PrivateKeyPath: *keyPath,
		KeyID:          *keyID,
		Issuer:         *issuer,
	})
	if err != nil {
		exitErr(err)
	}

	var req *http.Request
	base := strings.TrimRight(*baseURL, "/")
	if *kind != "" {
		token, err := signer.Sign(servicetoken.DefaultAudience, servicetoken.ScopeJobsWrite)
		if err != nil {
			exitErr(err)
		}
		body, _ := json.Marshal(map[string]string{"kind": *kind})
		req, err = http.NewRequest(http.MethodPost, base+"/internal/jobs", bytes.NewReader(body))
		if err != nil {
			exitErr(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		token, err := signer.Sign(servicetoken.DefaultAudience, servicetoken.ScopeJobsRead)
		if err != nil {
			exitErr(err)
		}
		req, err = http.NewRequest(http.MethodGet, base+"/internal/jobs/"+*status, nil)
		if err != nil {
			exitErr(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	if err != nil {
		exitErr(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(out)))
	if resp.StatusCode >= 300 {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
