// Package pulsora is the Go SDK for the Pulsora customer engagement
// platform. It wraps the REST API behind a session that manages
// credentials, refreshes expired tokens transparently, and retries
// transient failures, and it adds client-side conveniences the raw
// API does not have: an on-disk outbox that buffers events while the
// network or the service is unavailable, and a push gateway listener
// for receiving messages over a websocket.
//
// Construct a Client with New and use it from any number of
// goroutines:
//
//	client, err := pulsora.New(pulsora.Options{
//		BaseURL:        "https://api.pulsora.io/v1",
//		OrganisationID: "org_123",
//		APIKey:         os.Getenv("PULSORA_API_KEY"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.TrackEvent(ctx, pulsora.Event{
//		Name:       "order_placed",
//		CustomerID: "cus_42",
//		Data:       map[string]any{"total": 1999},
//	})
//
// Authentication accepts either an access/refresh token pair or an
// API key; an API key is exchanged for a token pair in the
// background on construction. When a request fails with an expired
// token the session refreshes it and replays the request once, and
// concurrent callers share a single refresh.
package pulsora
