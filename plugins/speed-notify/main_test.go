package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandle(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		record  string
		status  string
		wantErr bool
	}{
		{"under", `{"limit":30}`, `{"ave_speed":25}`, "ok", false},
		{"at limit", `{"limit":30}`, `{"ave_speed":30}`, "ok", false},
		{"over", `{"limit":30}`, `{"ave_speed":30.5}`, "over-limit", false},
		{"no limit", `{}`, `{"ave_speed":30}`, "", true},
		{"bad record", `{"limit":30}`, `nope`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := handle(Request{
				Event:  "speed",
				Config: json.RawMessage(tt.config),
				Record: json.RawMessage(tt.record),
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("handle() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && resp.Status != tt.status {
				t.Errorf("status = %q, want %q", resp.Status, tt.status)
			}
		})
	}
}

func TestHandle_Webhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg, _ := json.Marshal(Config{Limit: 20, WebhookURL: srv.URL})
	resp, err := handle(Request{
		RecordID: "abc",
		Config:   cfg,
		Record:   json.RawMessage(`{"ave_speed":44}`),
	})
	if err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if resp.Status != "over-limit" {
		t.Errorf("status = %q", resp.Status)
	}
	if got["record_id"] != "abc" || got["status"] != "over-limit" {
		t.Errorf("webhook body = %v", got)
	}
}
