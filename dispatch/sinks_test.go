package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentplexus/orderline/internal/sheets"
	"github.com/agentplexus/orderline/order"
)

func TestWebhookSinkPostsSnapshot(t *testing.T) {
	var got order.Snapshot
	var deliveryIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		deliveryIDs = append(deliveryIDs, r.Header.Get("X-Delivery-ID"))
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	if err := sink.Deliver(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := sink.Deliver(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got.CallID != "CA123" || got.Total != 24.83 {
		t.Errorf("snapshot = %+v", got)
	}

	// The header is the delivery idempotency key, so retries and
	// duplicate sends carry the same id for receiver-side dedup.
	if len(deliveryIDs) != 2 || deliveryIDs[0] != "CA123" || deliveryIDs[1] != "CA123" {
		t.Errorf("delivery ids = %v, want stable call id", deliveryIDs)
	}
}

func TestWebhookSinkStatusClassification(t *testing.T) {
	tests := []struct {
		status    string
		code      int
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"rejected", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			err := NewWebhookSink(srv.URL).Deliver(context.Background(), testSnapshot())
			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("err = %v, want TransportError", err)
			}
			if te.StatusCode != tt.code {
				t.Errorf("status = %d, want %d", te.StatusCode, tt.code)
			}
			if IsTransient(err) != tt.retryable {
				t.Errorf("IsTransient = %v, want %v", IsTransient(err), tt.retryable)
			}
		})
	}
}

func TestSheetSinkAppendsRow(t *testing.T) {
	var gotPath string
	var body struct {
		Values [][]any `json:"values"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := sheets.New(&sheets.Config{Token: "test-token", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("sheets.New: %v", err)
	}
	sink := NewSheetSink(client, "sheet-1")

	snap := order.Snapshot{
		CallID:         "CA123",
		CustomerName:   "Jane Smith",
		CustomerPhone:  "(415) 555-0134",
		DeliveryMethod: "pickup",
		Total:          24.83,
		ItemsSummary:   "1x glazed donut (dozen)",
	}
	if err := sink.Deliver(context.Background(), snap); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if gotPath != "/spreadsheets/sheet-1/values/Orders!A:G:append" {
		t.Errorf("path = %q", gotPath)
	}
	if len(body.Values) != 1 || len(body.Values[0]) != 7 {
		t.Fatalf("values = %+v", body.Values)
	}
	row := body.Values[0]
	if row[0] != "Jane Smith" || row[1] != "(415) 555-0134" {
		t.Errorf("row = %+v", row)
	}
	if row[4] != "20 minutes" {
		t.Errorf("eta = %v, want pickup estimate", row[4])
	}
	if row[5] != "$24.83" {
		t.Errorf("total = %v", row[5])
	}
}

func TestSheetSinkDeliveryEstimate(t *testing.T) {
	var row []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Values [][]any `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		row = body.Values[0]
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := sheets.New(&sheets.Config{Token: "test-token", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("sheets.New: %v", err)
	}
	snap := order.Snapshot{
		CallID:         "CA123",
		DeliveryMethod: "delivery",
		Address:        "1 Main St",
	}
	if err := NewSheetSink(client, "sheet-1").Deliver(context.Background(), snap); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if row[3] != "1 Main St" || row[4] != "45 minutes" {
		t.Errorf("row = %+v", row)
	}
}
