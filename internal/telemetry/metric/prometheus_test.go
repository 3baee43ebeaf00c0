package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.registry == nil {
		t.Fatal("registry field is nil")
	}
	if r.ConnectionsActive == nil || r.RequestsTotal == nil || r.RequestDuration == nil {
		t.Error("metrics not initialised")
	}
}

func TestGlobal(t *testing.T) {
	if Global() != Global() {
		t.Error("Global() should return the same instance")
	}
	if Handler() == nil {
		t.Error("Handler() returned nil")
	}
}

func TestHandler_RuntimeMetrics(t *testing.T) {
	body := scrape(t, NewRegistry())

	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected go_goroutines metric")
	}
	if !strings.Contains(body, "process_") {
		t.Error("expected process metrics")
	}
}

func TestConnectionMetrics(t *testing.T) {
	r := NewRegistry()

	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionClosed()
	r.ConnectionRejected()

	body := scrape(t, r)
	for _, want := range []string{
		"iotmesh_connections_active 1",
		"iotmesh_connections_total 2",
		"iotmesh_connections_rejected_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q", want)
		}
	}
}

func TestRequestMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordRequest("VALIDATE_USER", "OK_NEW_USER")
	r.RecordRequest("VALIDATE_USER", "WRONG_PWD")
	r.RecordRequest("VALIDATE_USER", "WRONG_PWD")
	r.ObserveRequestDuration("VALIDATE_USER", 0.02)
	r.RecordAuthFailure("user")
	r.RecordSinkError("mqtt")

	body := scrape(t, r)
	for _, want := range []string{
		`iotmesh_requests_total{opcode="VALIDATE_USER",result="OK_NEW_USER"} 1`,
		`iotmesh_requests_total{opcode="VALIDATE_USER",result="WRONG_PWD"} 2`,
		`iotmesh_request_duration_seconds_count{opcode="VALIDATE_USER"} 1`,
		`iotmesh_auth_failures_total{stage="user"} 1`,
		`iotmesh_sink_errors_total{sink="mqtt"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q", want)
		}
	}
}

func TestCollector(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewCollector(func() Stats {
		return Stats{Users: 3, Devices: 5, ActiveDevices: 2, Domains: 1}
	}))

	body := scrape(t, r)
	for _, want := range []string{
		"iotmesh_users 3",
		"iotmesh_devices 5",
		"iotmesh_devices_active 2",
		"iotmesh_domains 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q", want)
		}
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.ConnectionOpened()
				r.RecordRequest("SEND_TEMP", "OK_ACCEPTED")
				r.ObserveRequestDuration("SEND_TEMP", 0.001)
				r.ConnectionClosed()
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if body := scrape(t, r); !strings.Contains(body, `iotmesh_requests_total{opcode="SEND_TEMP",result="OK_ACCEPTED"} 1000`) {
		t.Error("expected 1000 SEND_TEMP requests")
	}
}
