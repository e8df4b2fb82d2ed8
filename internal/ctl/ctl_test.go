package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telecom-keeper/internal/auth"
	"telecom-keeper/internal/calls"
	"telecom-keeper/internal/config"
	"telecom-keeper/internal/httpapi"
	"telecom-keeper/internal/jobs"
	"telecom-keeper/internal/processing"
	"telecom-keeper/internal/registration"
	"telecom-keeper/internal/stream"
	"telecom-keeper/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type daemon struct {
	srv    *httptest.Server
	engine *telephony.LoopbackEngine
	hub    *stream.Hub
	sup    *processing.Supervisor
}

// newDaemon runs the real control API over a loopback engine.
func newDaemon(t *testing.T) *daemon {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	require.NoError(t, err)

	engine := telephony.NewLoopbackEngine()
	sched := jobs.NewLocalScheduler(jobs.LocalOptions{})
	job := &processing.EngineJob{Engine: engine, StepInterval: 5 * time.Millisecond, ToleratedDeltaMultiplier: 200}
	sup, err := processing.NewSupervisor(processing.Options{Scheduler: sched, Main: job.Run, HealthInterval: time.Hour})
	require.NoError(t, err)

	cr := calls.NewReconciler(engine, calls.Options{})
	cr.Attach()
	rr := registration.NewReconciler(engine, registration.Options{UnregisterTimeout: 100 * time.Millisecond})
	rr.Attach()

	hub := stream.NewHub(nil)
	go hub.Run(ctx)
	go stream.Forward(hub, stream.TopicProcessing, sup.ObserveProcessing(ctx))

	r := gin.New()
	httpapi.Handlers{
		Auth:          m,
		Processing:    sup,
		Calls:         cr,
		Registrations: rr,
		StationID:     "s1",
		IssueTokens:   true,
	}.Mount(r, hub)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = sched.Close(context.Background())
		sup.Close()
		cr.Close()
		rr.Close()
	})
	return &daemon{srv: srv, engine: engine, hub: hub, sup: sup}
}

func (d *daemon) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--host", d.srv.URL}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (d *daemon) login(t *testing.T, role string) string {
	t.Helper()
	out, err := d.run(t, "--format", "json", "login", "ops", "--role", role)
	require.NoError(t, err)
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &tok))
	require.NotEmpty(t, tok.AccessToken)
	return tok.AccessToken
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"login", "start", "stop", "status", "history", "live", "register", "unregister", "watch"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCommand_RejectsFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "yaml", "status"})
	cmd.SetOut(&bytes.Buffer{})
	require.Error(t, cmd.Execute())
}

func TestStartStatusStop(t *testing.T) {
	d := newDaemon(t)
	tok := d.login(t, "operator")

	out, err := d.run(t, "--token", tok, "start")
	require.NoError(t, err)
	assert.Contains(t, out, "started")
	require.Eventually(t, d.engine.Started, 2*time.Second, 5*time.Millisecond)

	out, err = d.run(t, "--token", tok, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "started")
	assert.Contains(t, out, string(registration.StatusNotRegistered))

	out, err = d.run(t, "--token", tok, "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped")
	require.Eventually(t, func() bool { return !d.engine.Started() }, 2*time.Second, 5*time.Millisecond)
}

func TestStart_ViewerForbidden(t *testing.T) {
	d := newDaemon(t)
	tok := d.login(t, "viewer")

	_, err := d.run(t, "--token", tok, "start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestStart_BadGatewayRendersState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"processing: job missing","state":{"state":"failed","cause":"processing: job missing"}}`))
	}))
	defer srv.Close()

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--host", srv.URL, "start"})
	err := cmd.Execute()
	require.EqualError(t, err, "processing: job missing")
	assert.Contains(t, out.String(), "failed")
}

func TestHistoryAndLive(t *testing.T) {
	d := newDaemon(t)
	tok := d.login(t, "viewer")

	d.engine.EmitCall(telephony.CallNotification{CallID: "call-0001", Transition: telephony.CallIncomingReceived, Direction: telephony.DirectionIncoming, RemoteParty: "sip:bob@example.com"})

	out, err := d.run(t, "--token", tok, "live")
	require.NoError(t, err)
	assert.Contains(t, out, "bob@example.com")

	d.engine.EmitCall(telephony.CallNotification{CallID: "call-0001", Transition: telephony.CallReleased, EndStatus: telephony.EndMissed, Direction: telephony.DirectionIncoming, RemoteParty: "sip:bob@example.com"})

	out, err = d.run(t, "--token", tok, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "ringing")
	assert.Contains(t, out, "missed")

	out, err = d.run(t, "--token", tok, "--format", "json", "history", "--summary")
	require.NoError(t, err)
	var s calls.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 1, s.MissedCalls)
}

func TestRegisterUnregister(t *testing.T) {
	d := newDaemon(t)
	tok := d.login(t, "operator")

	out, err := d.run(t, "--token", tok, "register", "sip:alice@example.com", "--registrar", "sip:example.com")
	require.NoError(t, err)
	assert.Contains(t, out, string(registration.StatusRegistered))

	out, err = d.run(t, "--token", tok, "unregister")
	require.NoError(t, err)
	assert.Contains(t, out, string(registration.StatusUnregistered))
}

func TestWatch_StreamsProcessing(t *testing.T) {
	d := newDaemon(t)
	tok := d.login(t, "operator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var buf syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, NewClient(d.srv.URL, tok), &buf, WatchOptions{Topics: []string{stream.TopicProcessing}, JSON: true})
	}()

	require.Eventually(t, func() bool { return strings.Contains(buf.String(), `"stopped"`) }, 2*time.Second, 10*time.Millisecond)
	_, err := d.run(t, "--token", tok, "start")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(buf.String(), `"started"`) }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
