package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// InstanceInfo identifies one simulation instance and where to reach it.
type InstanceInfo struct {
	Addr string `json:"addr"`
	ID   int    `json:"id"`
}

// RegisterRequest is sent by an instance to the orchestrator once its
// HTTP server is up, confirming the slot is ready for forwarding.
type RegisterRequest struct {
	Instance InstanceInfo `json:"instance"`
}

// BodyState is the snapshot an instance reports for its pendulum.
//
// Position is always derived from Angle, Length, and PivotOffset at the
// moment the snapshot is taken; it is never stored independently, so the
// two can never disagree. HasPosition is false until the instance has
// been configured at least once.
type BodyState struct {
	ID          int      `json:"id"`
	PivotOffset float64  `json:"pivot_offset"`
	Angle       float64  `json:"angle"`
	Velocity    float64  `json:"angular_velocity"`
	Length      float64  `json:"length"`
	Position    Position `json:"position"`
	HasPosition bool     `json:"has_position"`
	Elapsed     float64  `json:"elapsed_time"`
	Finished    bool     `json:"finished"`
	Running     bool     `json:"running"`
}

// Position is a 2-D point in centimeters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ConfigureRequest carries the physics parameters for one instance.
// Units are centimeters and seconds; MaxTime defaults to 60 when omitted.
type ConfigureRequest struct {
	PivotOffset float64 `json:"pivot_offset"`
	Angle       float64 `json:"angle"`
	Mass        float64 `json:"mass"`
	Length      float64 `json:"length"`
	Gravity     float64 `json:"gravity"`
	MaxTime     float64 `json:"max_time"`
}

// HealthStatus is the per-instance health view exposed on /health.
type HealthStatus struct {
	Configured bool `json:"configured"`
	Running    bool `json:"running"`
}

// Pub/sub topics for the collision coordination protocol.
//
// The leader publishes directives on the collision topics and counts
// acknowledgments on the stopped/restarted topics; followers do the
// inverse. Directive delivery is at-least-once, so every handler on
// these topics must be idempotent.
const (
	TopicCollisionStop    = "collision/stop"
	TopicCollisionRestart = "collision/restart"
	TopicStopped          = "instance/stopped"
	TopicRestarted        = "instance/restarted"
)

// StopDirective tells every instance to halt its update loop.
// Pair carries the two identities whose bodies collided.
type StopDirective struct {
	Pair [2]int `json:"pair"`
}

// RestartDirective tells every instance to resume after the pause.
type RestartDirective struct {
	Pair [2]int `json:"pair"`
}

// Ack is published by a follower on TopicStopped or TopicRestarted,
// carrying only its own identity.
type Ack struct {
	ID int `json:"id"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends body as JSON to url and decodes the response into out
// (skipped when out is nil). Status codes >= 300 are returned as errors.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
