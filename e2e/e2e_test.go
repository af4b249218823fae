package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/speedcam/internal/app"
	"github.com/ayusman/speedcam/internal/capture"
	"github.com/ayusman/speedcam/internal/config"
	"github.com/ayusman/speedcam/internal/detector"
	"github.com/ayusman/speedcam/internal/server"
	"github.com/ayusman/speedcam/internal/store"
	"github.com/ayusman/speedcam/testdata"
)

func ptr[T any](v T) *T { return &v }

func settings(dir string) *config.Config {
	cfg := config.Empty()
	cfg.Name = ptr("E2E")
	cfg.Motion.TrackCounter = ptr(3)
	cfg.Storage.CSVDir = ptr(filepath.Join(dir, "csv"))
	cfg.Image.Path = ptr(filepath.Join(dir, "media", "images"))
	cfg.Graphs.Dir = ptr(filepath.Join(dir, "media", "graphs"))
	cfg.Plugins.Enabled = ptr(false)
	return cfg
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()
	cfg := settings(tmpDir)

	s, err := store.New(filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	frames := testdata.BlankFrames(6)
	defer testdata.CloseAll(frames)

	hub := server.NewHub()
	application, err := app.New(app.Config{
		Settings: cfg,
		Store:    s,
		Camera:   capture.NewMockCamera(frames, false),
		Detector: detector.NewMockDetector(detector.PassingVehicle(20, 10, 4, 80, 40, 60)...),
		Notify:   func(m app.Measurement) { hub.Broadcast(m) },
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}

	mediaDir := filepath.Join(tmpDir, "media")
	srv := server.New(server.Config{
		MediaDir:   mediaDir,
		Store:      s,
		Controller: application,
		Preview:    application,
		Hub:        hub,
		Units:      "mph",
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	events, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	defer events.Close()
	for deadline := time.Now().Add(2 * time.Second); hub.Clients() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Run("RunPipeline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Run(ctx); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	})

	var recordID, imagePath string
	t.Run("EventBroadcast", func(t *testing.T) {
		_ = events.SetReadDeadline(time.Now().Add(2 * time.Second))
		var m struct {
			Record struct {
				ID        string  `json:"id"`
				AveSpeed  float64 `json:"ave_speed"`
				ImagePath string  `json:"image_path"`
			} `json:"record"`
		}
		if err := events.ReadJSON(&m); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if m.Record.ID == "" || m.Record.AveSpeed < 28 || m.Record.AveSpeed > 30 {
			t.Fatalf("unexpected event record %+v", m.Record)
		}
		recordID, imagePath = m.Record.ID, m.Record.ImagePath
	})

	t.Run("ListSpeeds", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/speeds?direction=L2R")
		if err != nil {
			t.Fatalf("list speeds error = %v", err)
		}
		defer resp.Body.Close()

		var listed struct {
			Speeds []struct {
				ID string `json:"id"`
			} `json:"speeds"`
		}
		json.NewDecoder(resp.Body).Decode(&listed)
		if len(listed.Speeds) != 1 || listed.Speeds[0].ID != recordID {
			t.Errorf("speeds = %+v, want only %s", listed.Speeds, recordID)
		}
	})

	t.Run("ServeImage", func(t *testing.T) {
		rel, err := filepath.Rel(mediaDir, imagePath)
		if err != nil || strings.HasPrefix(rel, "..") {
			t.Fatalf("image %s is outside %s", imagePath, mediaDir)
		}
		resp, err := client.Get(ts.URL + "/media/" + filepath.ToSlash(rel))
		if err != nil {
			t.Fatalf("get image error = %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("image status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("ToggleDetection", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/status", strings.NewReader(`{"enabled": false}`))
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("put status error = %v", err)
		}
		defer resp.Body.Close()

		var st app.Status
		json.NewDecoder(resp.Body).Decode(&st)
		if st.Enabled || st.Measurements != 1 {
			t.Errorf("status = %+v, want disabled with one measurement", st)
		}

		if s.Settings().GetBool(app.SettingEnabled, true) {
			t.Error("persisted enabled = true, want false")
		}
	})

	t.Run("APIStillWorks", func(t *testing.T) {
		resp, _ := client.Get(ts.URL + "/api/health")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("health check failed after app operations")
		}
		resp.Body.Close()
	})
}

func TestE2E_ContourPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()
	frames := testdata.MovingBlock(12, 240, 12, 60, 40, 90)
	defer testdata.CloseAll(frames)

	application, err := app.New(app.Config{
		Settings: settings(tmpDir),
		Camera:   capture.NewMockCamera(frames, false),
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	defer application.Detector().Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st := application.Status()
	if st.Frames != int64(len(frames)) {
		t.Errorf("frames = %d, want %d", st.Frames, len(frames))
	}
	if st.Running {
		t.Error("pipeline still running after end of stream")
	}
}
