package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"Prophet-Chain/sdk/go/prophet"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/prophecies", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(prophet.APIError{
			Code:    "CONFIRMATION_TIMED_OUT",
			Message: "confirmation timed out",
			TxHash:  "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
		})
	})
	mux.HandleFunc("GET /api/v1/transactions/{hash}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(prophet.Transaction{
			Hash:     r.PathValue("hash"),
			Purpose:  "action",
			Status:   "confirmed",
			ResultID: "42",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := prophet.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAPIKey("demo-key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = client.CreateProphecy(ctx, prophet.ProphecyRequest{
		Sentence:      "ETH closes above 10k",
		BettingAmount: "5",
		Oracle:        "BBC",
		TargetDates:   []time.Time{time.Now().Add(30 * 24 * time.Hour)},
	})
	var apiErr *prophet.APIError
	if !errors.As(err, &apiErr) || !apiErr.Pending() {
		panic(fmt.Sprintf("unexpected result: %v", err))
	}
	fmt.Printf("prophecy pending, tx %s\n", apiErr.TxHash)

	tx, err := client.GetTransaction(ctx, apiErr.TxHash)
	if err != nil {
		panic(err)
	}
	fmt.Printf("transaction %s is %s, token id %s\n", tx.Hash, tx.Status, tx.ResultID)
}
