package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestInstanceInfo tests the InstanceInfo struct serialization
func TestInstanceInfo(t *testing.T) {
	info := InstanceInfo{
		ID:   2,
		Addr: "http://localhost:9082",
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Failed to marshal InstanceInfo: %v", err)
	}

	// Verify JSON structure contains required fields
	var jsonMap map[string]interface{}
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	if jsonMap["id"] != float64(2) {
		t.Errorf("Expected id 2, got %v", jsonMap["id"])
	}
	if jsonMap["addr"] != "http://localhost:9082" {
		t.Errorf("Expected addr 'http://localhost:9082', got %v", jsonMap["addr"])
	}

	var decoded InstanceInfo
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal InstanceInfo: %v", err)
	}
	if decoded != info {
		t.Errorf("Expected %+v after round trip, got %+v", info, decoded)
	}
}

// TestBodyStateJSON verifies the wire names the orchestrator and the
// instances agree on for state snapshots
func TestBodyStateJSON(t *testing.T) {
	state := BodyState{
		ID:          1,
		PivotOffset: 10,
		Angle:       0.5,
		Velocity:    -0.25,
		Length:      30,
		Position:    Position{X: 24.4, Y: -26.3},
		HasPosition: true,
		Elapsed:     1.5,
		Running:     true,
	}

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("Failed to marshal BodyState: %v", err)
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	for _, field := range []string{
		"id", "pivot_offset", "angle", "angular_velocity", "length",
		"position", "has_position", "elapsed_time", "finished", "running",
	} {
		if _, ok := jsonMap[field]; !ok {
			t.Errorf("Missing field %q in BodyState JSON", field)
		}
	}

	pos, ok := jsonMap["position"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected position to be an object")
	}
	if pos["x"] != 24.4 || pos["y"] != -26.3 {
		t.Errorf("Unexpected position %v", pos)
	}
}

// TestTopicNames pins the topic strings both sides subscribe to
func TestTopicNames(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{TopicCollisionStop, "collision/stop"},
		{TopicCollisionRestart, "collision/restart"},
		{TopicStopped, "instance/stopped"},
		{TopicRestarted, "instance/restarted"},
	}
	for _, tt := range tests {
		if tt.topic != tt.want {
			t.Errorf("Expected topic %q, got %q", tt.want, tt.topic)
		}
	}
}

// TestPostJSON tests the PostJSON helper against a live test server
func TestPostJSON(t *testing.T) {
	t.Run("successful post with response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Expected JSON content type, got %s", r.Header.Get("Content-Type"))
			}
			var in Ack
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Errorf("Failed to decode request: %v", err)
			}
			if in.ID != 3 {
				t.Errorf("Expected ack from instance 3, got %d", in.ID)
			}
			_ = json.NewEncoder(w).Encode(HealthStatus{Configured: true, Running: true})
		}))
		defer srv.Close()

		var out HealthStatus
		err := PostJSON(context.Background(), srv.URL, Ack{ID: 3}, &out)
		if err != nil {
			t.Fatalf("PostJSON failed: %v", err)
		}
		if !out.Configured || !out.Running {
			t.Errorf("Unexpected response %+v", out)
		}
	})

	t.Run("post with nil output", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		if err := PostJSON(context.Background(), srv.URL, Ack{ID: 0}, nil); err != nil {
			t.Fatalf("PostJSON failed: %v", err)
		}
	})

	t.Run("error status propagates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad config", http.StatusBadRequest)
		}))
		defer srv.Close()

		if err := PostJSON(context.Background(), srv.URL, Ack{ID: 0}, nil); err == nil {
			t.Error("Expected error for 400 response, got nil")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := PostJSON(ctx, srv.URL, Ack{ID: 0}, nil); err == nil {
			t.Error("Expected error for canceled context, got nil")
		}
	})
}

// TestGetJSON tests the GetJSON helper
func TestGetJSON(t *testing.T) {
	t.Run("successful get", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(BodyState{ID: 1, Running: true, HasPosition: true})
		}))
		defer srv.Close()

		var out BodyState
		if err := GetJSON(context.Background(), srv.URL, &out); err != nil {
			t.Fatalf("GetJSON failed: %v", err)
		}
		if out.ID != 1 || !out.Running {
			t.Errorf("Unexpected state %+v", out)
		}
	})

	t.Run("error status propagates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		var out BodyState
		if err := GetJSON(context.Background(), srv.URL, &out); err == nil {
			t.Error("Expected error for 503 response, got nil")
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		var out BodyState
		err := GetJSON(context.Background(), "http://127.0.0.1:1/state", &out)
		if err == nil {
			t.Error("Expected error for unreachable server, got nil")
		}
	})
}
