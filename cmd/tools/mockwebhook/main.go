// Command mockwebhook sends a signed event to the mock payment processor's
// webhook endpoint, standing in for a real processor during local testing.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"globlept.co.uk/app/internal/modules/payments"
)

func main() {
	url := flag.String("url", "http://localhost:8080/api/v1/webhooks/mock", "Webhook URL")
	secret := flag.String("secret", os.Getenv("MOCK_WEBHOOK_SECRET"), "Webhook secret")
	eventID := flag.String("event-id", "evt_"+uuid.NewString(), "Event ID")
	eventType := flag.String("type", payments.EventPaymentSucceeded, "Event type (payment.succeeded, payment.failed, refund.succeeded, refund.failed)")
	intentRef := flag.String("intent-ref", "", "Payment intent ref (for payment events)")
	refundRef := flag.String("refund-ref", "", "Refund ref (for refund events)")
	prescriptionID := flag.Uint64("prescription-id", 0, "Prescription id carried in the event metadata")
	amount := flag.Int64("amount", 0, "Amount in minor units (pence)")
	currency := flag.String("currency", "GBP", "Currency")
	dryRun := flag.Bool("dry-run", false, "Only print signature header, don't send")

	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "Error: secret not provided and MOCK_WEBHOOK_SECRET not set")
		os.Exit(1)
	}

	var payload payments.MockPayload
	payload.ID = *eventID
	payload.Type = *eventType
	payload.Data.IntentRef = *intentRef
	payload.Data.RefundRef = *refundRef
	payload.Data.PrescriptionID = *prescriptionID
	payload.Data.AmountMinor = *amount
	payload.Data.Currency = *currency

	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling payload: %v\n", err)
		os.Exit(1)
	}

	sigHeader := payments.SignMockPayload([]byte(*secret), time.Now(), body)

	fmt.Printf("%s: %s\n", payments.MockSignatureHeader, sigHeader)
	fmt.Printf("Body: %s\n", string(body))

	if *dryRun {
		fmt.Println("\n[DRY RUN] Not sending request")
		return
	}

	fmt.Printf("\nSending to %s...\n", *url)
	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(payments.MockSignatureHeader, sigHeader)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response: %s\n", string(respBody))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
