package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/pendula/internal/cluster"
)

// recordingPublisher captures acknowledgments the runtime emits.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	acks   []cluster.Ack
}

func (p *recordingPublisher) publish(topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if ack, ok := payload.(cluster.Ack); ok {
		p.acks = append(p.acks, ack)
	}
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

func validConfigure() cluster.ConfigureRequest {
	return cluster.ConfigureRequest{
		PivotOffset: 10,
		Angle:       0.5,
		Mass:        1,
		Length:      30,
		Gravity:     981,
		MaxTime:     60,
	}
}

func TestRuntimeStartRequiresConfiguration(t *testing.T) {
	rt := NewRuntime(0, (&recordingPublisher{}).publish)

	assert.False(t, rt.Start(), "unconfigured runtime must refuse to start")

	require.NoError(t, rt.Configure(validConfigure()))
	assert.True(t, rt.Start())
	assert.True(t, rt.Start(), "starting a running runtime is a no-op")
	rt.Stop()
	rt.Stop()
}

func TestRuntimeConfigureStopsRunningLoop(t *testing.T) {
	rt := NewRuntime(3, (&recordingPublisher{}).publish)
	require.NoError(t, rt.Configure(validConfigure()))
	require.True(t, rt.Start())

	require.NoError(t, rt.Configure(validConfigure()))

	health := rt.Health()
	assert.True(t, health.Configured)
	assert.False(t, health.Running, "reconfiguration must stop the loop")
}

func TestRuntimeConfigureRejectsInvalid(t *testing.T) {
	rt := NewRuntime(0, (&recordingPublisher{}).publish)
	require.NoError(t, rt.Configure(validConfigure()))
	require.True(t, rt.Start())

	bad := validConfigure()
	bad.Length = -1
	require.Error(t, rt.Configure(bad))

	// A rejected configuration leaves the previous one untouched.
	health := rt.Health()
	assert.True(t, health.Configured)
	assert.True(t, health.Running)
	rt.Stop()
}

func TestRuntimeResetClearsEverything(t *testing.T) {
	rt := NewRuntime(2, (&recordingPublisher{}).publish)
	require.NoError(t, rt.Configure(validConfigure()))
	require.True(t, rt.Start())

	rt.Reset()

	health := rt.Health()
	assert.False(t, health.Configured)
	assert.False(t, health.Running)

	state := rt.State()
	assert.Equal(t, 2, state.ID)
	assert.False(t, state.HasPosition, "reset runtime reports no position")
}

func TestStopDirectiveAlwaysAcknowledges(t *testing.T) {
	pub := &recordingPublisher{}
	rt := NewRuntime(1, pub.publish)

	directive, err := json.Marshal(cluster.StopDirective{Pair: [2]int{0, 1}})
	require.NoError(t, err)

	// Already stopped: the directive is a no-op but still acknowledged.
	rt.OnStopDirective(directive)

	require.NoError(t, rt.Configure(validConfigure()))
	require.True(t, rt.Start())
	rt.OnStopDirective(directive)

	assert.False(t, rt.Health().Running)
	assert.Equal(t, []string{cluster.TopicStopped, cluster.TopicStopped}, pub.published())
	assert.Equal(t, []cluster.Ack{{ID: 1}, {ID: 1}}, pub.acks)
}

func TestRestartDirectiveAlwaysAcknowledges(t *testing.T) {
	pub := &recordingPublisher{}
	rt := NewRuntime(4, pub.publish)

	directive, err := json.Marshal(cluster.RestartDirective{Pair: [2]int{0, 1}})
	require.NoError(t, err)

	// Unconfigured: cannot resume, must still acknowledge.
	rt.OnRestartDirective(directive)
	assert.False(t, rt.Health().Running)

	require.NoError(t, rt.Configure(validConfigure()))
	rt.OnRestartDirective(directive)
	assert.True(t, rt.Health().Running)
	rt.Stop()

	assert.Equal(t, []string{cluster.TopicRestarted, cluster.TopicRestarted}, pub.published())
}

func TestMuxConfigureAndStartFlow(t *testing.T) {
	rt := NewRuntime(0, (&recordingPublisher{}).publish)
	srv := httptest.NewServer(rt.Mux())
	defer srv.Close()
	defer rt.Stop()

	// Starting before configuring conflicts.
	resp, err := http.Post(srv.URL+"/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body, err := json.Marshal(validConfigure())
	require.NoError(t, err)
	resp, err = http.Post(srv.URL+"/configure", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/state")
	require.NoError(t, err)
	var state cluster.BodyState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.True(t, state.HasPosition)
	assert.True(t, state.Running)

	resp, err = http.Post(srv.URL+"/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestMuxConfigureValidation(t *testing.T) {
	rt := NewRuntime(0, (&recordingPublisher{}).publish)
	srv := httptest.NewServer(rt.Mux())
	defer srv.Close()

	bad := validConfigure()
	bad.Gravity = 0
	body, err := json.Marshal(bad)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/configure", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/configure", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMuxMethodChecks(t *testing.T) {
	rt := NewRuntime(0, (&recordingPublisher{}).publish)
	srv := httptest.NewServer(rt.Mux())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/state", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/configure")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMuxHealth(t *testing.T) {
	rt := NewRuntime(0, (&recordingPublisher{}).publish)
	srv := httptest.NewServer(rt.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health cluster.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.False(t, health.Configured)
	assert.False(t, health.Running)
}
