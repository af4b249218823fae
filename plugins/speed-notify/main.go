// Package main provides a speed notification plugin.
// It flags measurements above a configured limit and can forward them to a webhook.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Request represents the input from the plugin executor.
type Request struct {
	Event    string          `json:"event"`
	RecordID string          `json:"record_id"`
	Record   json.RawMessage `json:"record"`
	Config   json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Status  string          `json:"status,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the plugin configuration from plugin.json or the request.
type Config struct {
	Limit      float64 `json:"limit"`
	WebhookURL string  `json:"webhook_url"`
	// Only over-limit measurements are posted unless NotifyAll is set.
	NotifyAll bool `json:"notify_all"`
}

type record struct {
	AveSpeed   float64 `json:"ave_speed"`
	SpeedUnits string  `json:"speed_units"`
	Direction  string  `json:"direction"`
	ImagePath  string  `json:"image_path"`
}

func main() {
	// Read request from stdin
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}

	resp, err := handle(req)
	if err != nil {
		writeResponse(Response{Error: err.Error()})
		return
	}
	writeResponse(resp)
}

func handle(req Request) (Response, error) {
	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return Response{}, fmt.Errorf("invalid config: %w", err)
		}
	}
	if cfg.Limit <= 0 {
		return Response{}, fmt.Errorf("config limit must be positive")
	}

	var rec record
	if err := json.Unmarshal(req.Record, &rec); err != nil {
		return Response{}, fmt.Errorf("invalid record: %w", err)
	}

	status := "ok"
	if rec.AveSpeed > cfg.Limit {
		status = "over-limit"
	}

	if cfg.WebhookURL != "" && (status == "over-limit" || cfg.NotifyAll) {
		if err := post(cfg.WebhookURL, req, status); err != nil {
			return Response{}, err
		}
	}

	data, _ := json.Marshal(map[string]any{
		"limit":  cfg.Limit,
		"speed":  rec.AveSpeed,
		"excess": rec.AveSpeed - cfg.Limit,
	})
	return Response{Success: true, Status: status, Data: data}, nil
}

func post(url string, req Request, status string) error {
	body, err := json.Marshal(map[string]any{
		"record_id": req.RecordID,
		"status":    status,
		"record":    req.Record,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %s", resp.Status)
	}
	return nil
}

// writeResponse writes resp to stdout.
func writeResponse(resp Response) {
	json.NewEncoder(os.Stdout).Encode(resp)
}
