package iotserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/protocol"
	"github.com/yndnr/iotmesh-go/internal/telemetry/metric"
)

func TestRouter_NilRequest(t *testing.T) {
	r, _, _ := newTestRouter(t)
	if resp := r.Process(context.Background(), newTestSession(t), nil); resp != nil {
		t.Errorf("Process(nil) = %v, want nil", resp)
	}
}

func TestRouter_UnsupportedOpcode(t *testing.T) {
	r, _, _ := newTestRouter(t)
	s := newTestSession(t)

	for _, op := range []protocol.Opcode{"REBOOT", protocol.OpOKAccepted, ""} {
		resp := r.Process(context.Background(), s, protocol.New(op))
		if resp.Op != protocol.OpNOKUnsupported {
			t.Errorf("Process(%q) = %s, want %s", op, resp.Op, protocol.OpNOKUnsupported)
		}
	}
}

func TestRouter_EveryRequestOpcodeHasHandler(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ops := []protocol.Opcode{
		protocol.OpValidateUser, protocol.OpValidateDevice, protocol.OpValidateProgram,
		protocol.OpCreateDomain, protocol.OpAddUserDomain, protocol.OpRegisterDeviceDomain,
		protocol.OpSendTemp, protocol.OpSendImage, protocol.OpGetTemp, protocol.OpGetUserImage,
		protocol.OpExit, protocol.OpEOS,
	}
	for _, op := range ops {
		if _, ok := r.handlers[op]; !ok {
			t.Errorf("no handler for %s", op)
		}
	}
}

func TestRouter_Handshake(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	s := newTestSession(t)
	tests := []struct {
		name string
		req  *protocol.Envelope
		want protocol.Opcode
	}{
		{"device before user", &protocol.Envelope{Op: protocol.OpValidateDevice, DevID: 7}, protocol.OpNOKNoPermissions},
		{"program before device", &protocol.Envelope{Op: protocol.OpValidateProgram, ProgramName: testProgramName, ProgramSize: testProgramSize}, protocol.OpNOKTested},
		{"empty password", &protocol.Envelope{Op: protocol.OpValidateUser, User: "alice"}, protocol.OpWrongPwd},
		{"new user", &protocol.Envelope{Op: protocol.OpValidateUser, User: "alice", Password: "secret"}, protocol.OpOKNewUser},
		{"re-authenticate", &protocol.Envelope{Op: protocol.OpValidateUser, User: "alice", Password: "other"}, protocol.OpOKUser},
		{"negative device", &protocol.Envelope{Op: protocol.OpValidateDevice, DevID: -1}, protocol.OpNOKDevID},
		{"device", &protocol.Envelope{Op: protocol.OpValidateDevice, DevID: 7}, protocol.OpOKDevID},
		{"device again", &protocol.Envelope{Op: protocol.OpValidateDevice, DevID: 8}, protocol.OpOKDevID},
		{"wrong program", &protocol.Envelope{Op: protocol.OpValidateProgram, ProgramName: testProgramName, ProgramSize: 1}, protocol.OpNOKTested},
		{"program", &protocol.Envelope{Op: protocol.OpValidateProgram, ProgramName: testProgramName, ProgramSize: testProgramSize}, protocol.OpOKTested},
		{"program again", &protocol.Envelope{Op: protocol.OpValidateProgram, ProgramName: "x", ProgramSize: 1}, protocol.OpOKTested},
	}
	for _, tt := range tests {
		if resp := r.Process(ctx, s, tt.req); resp.Op != tt.want {
			t.Fatalf("%s: got %s, want %s", tt.name, resp.Op, tt.want)
		}
	}
	if s.DeviceName() != "alice:7" {
		t.Errorf("session device = %q, want alice:7", s.DeviceName())
	}

	other := newTestSession(t)
	if resp := r.Process(ctx, other, &protocol.Envelope{Op: protocol.OpValidateUser, User: "alice", Password: "wrong"}); resp.Op != protocol.OpWrongPwd {
		t.Errorf("wrong password: got %s", resp.Op)
	}
	if resp := r.Process(ctx, other, &protocol.Envelope{Op: protocol.OpValidateUser, User: "alice", Password: "secret"}); resp.Op != protocol.OpOKUser {
		t.Errorf("existing user: got %s", resp.Op)
	}
	if resp := r.Process(ctx, other, &protocol.Envelope{Op: protocol.OpValidateDevice, DevID: 7}); resp.Op != protocol.OpNOKDevID {
		t.Errorf("busy device: got %s, want NOK_DEVID", resp.Op)
	}
}

func TestRouter_OperationsRequireCompleteSession(t *testing.T) {
	r, _, _ := newTestRouter(t)
	s := newTestSession(t)

	ops := []*protocol.Envelope{
		{Op: protocol.OpCreateDomain, Domain: "home"},
		{Op: protocol.OpAddUserDomain, User: "bob", Domain: "home"},
		{Op: protocol.OpRegisterDeviceDomain, Domain: "home"},
		{Op: protocol.OpSendTemp, Temp: 20},
		{Op: protocol.OpSendImage, ImageName: "a.png", Image: []byte{1}},
		{Op: protocol.OpGetTemp, Domain: "home"},
		{Op: protocol.OpGetUserImage, User: "bob", DevID: 1},
	}
	for _, req := range ops {
		if resp := r.Process(context.Background(), s, req); resp.Op != protocol.OpNOKNoPermissions {
			t.Errorf("%s before COMPLETE: got %s, want NOK_NO_PERMISSIONS", req.Op, resp.Op)
		}
	}
}

func TestRouter_DomainScenario(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	alice := newTestSession(t)
	handshake(t, r, alice, "alice", 7)
	bob := newTestSession(t)
	handshake(t, r, bob, "bob", 1)

	steps := []struct {
		name string
		s    *domain.Session
		req  *protocol.Envelope
		want protocol.Opcode
	}{
		{"get temp unknown domain", alice, &protocol.Envelope{Op: protocol.OpGetTemp, Domain: "home"}, protocol.OpNOKNoDomain},
		{"create", alice, &protocol.Envelope{Op: protocol.OpCreateDomain, Domain: "home"}, protocol.OpOKAccepted},
		{"create again", bob, &protocol.Envelope{Op: protocol.OpCreateDomain, Domain: "home"}, protocol.OpNOKAlreadyExists},
		{"create invalid", alice, &protocol.Envelope{Op: protocol.OpCreateDomain, Domain: "a b"}, protocol.OpNOK},
		{"no data yet", alice, &protocol.Envelope{Op: protocol.OpGetTemp, Domain: "home"}, protocol.OpNOKNoData},
		{"non-member reads", bob, &protocol.Envelope{Op: protocol.OpGetTemp, Domain: "home"}, protocol.OpNOKNoPermissions},
		{"non-owner adds", bob, &protocol.Envelope{Op: protocol.OpAddUserDomain, User: "bob", Domain: "home"}, protocol.OpNOKNoPermissions},
		{"add unknown user", alice, &protocol.Envelope{Op: protocol.OpAddUserDomain, User: "carol", Domain: "home"}, protocol.OpNOKNoUser},
		{"add to unknown domain", alice, &protocol.Envelope{Op: protocol.OpAddUserDomain, User: "bob", Domain: "work"}, protocol.OpNOKNoDomain},
		{"add bob", alice, &protocol.Envelope{Op: protocol.OpAddUserDomain, User: "bob", Domain: "home"}, protocol.OpOKAccepted},
		{"add bob again", alice, &protocol.Envelope{Op: protocol.OpAddUserDomain, User: "bob", Domain: "home"}, protocol.OpNOKAlreadyExists},
		{"register", alice, &protocol.Envelope{Op: protocol.OpRegisterDeviceDomain, Domain: "home"}, protocol.OpOKAccepted},
		{"register again", alice, &protocol.Envelope{Op: protocol.OpRegisterDeviceDomain, Domain: "home"}, protocol.OpNOKAlreadyExists},
		{"register unknown domain", alice, &protocol.Envelope{Op: protocol.OpRegisterDeviceDomain, Domain: "work"}, protocol.OpNOKNoDomain},
		{"send temp", alice, &protocol.Envelope{Op: protocol.OpSendTemp, Temp: 21.5}, protocol.OpOKAccepted},
		{"image before upload", bob, &protocol.Envelope{Op: protocol.OpGetUserImage, User: "alice", DevID: 7}, protocol.OpNOKNoData},
		{"send image", alice, &protocol.Envelope{Op: protocol.OpSendImage, ImageName: "/tmp/cam.jpg", Image: []byte("jpegdata"), ImageSize: 4}, protocol.OpOKAccepted},
		{"send empty image", alice, &protocol.Envelope{Op: protocol.OpSendImage, ImageName: "x.jpg"}, protocol.OpNOK},
		{"unknown device image", bob, &protocol.Envelope{Op: protocol.OpGetUserImage, User: "alice", DevID: 99}, protocol.OpNOKNoDevice},
		{"unshared device image", alice, &protocol.Envelope{Op: protocol.OpGetUserImage, User: "bob", DevID: 1}, protocol.OpNOKNoPermissions},
	}
	for _, st := range steps {
		if resp := r.Process(ctx, st.s, st.req); resp.Op != st.want {
			t.Fatalf("%s: got %s, want %s", st.name, resp.Op, st.want)
		}
	}

	resp := r.Process(ctx, bob, &protocol.Envelope{Op: protocol.OpGetTemp, Domain: "home"})
	if resp.Op != protocol.OpOKAccepted {
		t.Fatalf("GET_TEMP: got %s", resp.Op)
	}
	if len(resp.Temps) != 1 || resp.Temps["alice:7"] != 21.5 {
		t.Errorf("GET_TEMP temps = %v, want map[alice:7:21.5]", resp.Temps)
	}

	resp = r.Process(ctx, bob, &protocol.Envelope{Op: protocol.OpGetUserImage, User: "alice", DevID: 7})
	if resp.Op != protocol.OpOKAccepted {
		t.Fatalf("GET_USER_IMAGE: got %s", resp.Op)
	}
	if resp.ImageName != "cam.jpg" || string(resp.Image) != "jpeg" || resp.ImageSize != 4 {
		t.Errorf("image = %q %q %d, want cam.jpg jpeg 4", resp.ImageName, resp.Image, resp.ImageSize)
	}
}

func TestRouter_TerminateReleasesDevice(t *testing.T) {
	for _, op := range []protocol.Opcode{protocol.OpExit, protocol.OpEOS} {
		t.Run(op.String(), func(t *testing.T) {
			r, reg, _ := newTestRouter(t)
			ctx := context.Background()

			s := newTestSession(t)
			handshake(t, r, s, "alice", 7)
			if got := reg.Stats().ActiveDevices; got != 1 {
				t.Fatalf("ActiveDevices = %d, want 1", got)
			}

			if resp := r.Process(ctx, s, protocol.New(op)); resp.Op != protocol.OpOKAccepted {
				t.Fatalf("%s: got %s", op, resp.Op)
			}
			if resp := r.Process(ctx, s, protocol.New(op)); resp.Op != protocol.OpOKAccepted {
				t.Errorf("second %s: got %s", op, resp.Op)
			}
			if got := reg.Stats().ActiveDevices; got != 0 {
				t.Errorf("ActiveDevices after %s = %d, want 0", op, got)
			}

			next := newTestSession(t)
			handshake(t, r, next, "alice", 7)
		})
	}
}

func TestOpcodeForError(t *testing.T) {
	tests := []struct {
		err  error
		want protocol.Opcode
	}{
		{domain.ErrWrongPassword, protocol.OpWrongPwd},
		{domain.ErrDeviceBusy.WithDetails("alice:7"), protocol.OpNOKDevID},
		{domain.ErrProgramRejected, protocol.OpNOKTested},
		{domain.ErrNotAuthenticated, protocol.OpNOKNoPermissions},
		{domain.ErrPermissionDenied, protocol.OpNOKNoPermissions},
		{domain.ErrAlreadyExists, protocol.OpNOKAlreadyExists},
		{domain.ErrDomainNotFound.WithDetails("home"), protocol.OpNOKNoDomain},
		{domain.ErrUserNotFound, protocol.OpNOKNoUser},
		{domain.ErrDeviceNotFound, protocol.OpNOKNoDevice},
		{domain.ErrNoData, protocol.OpNOKNoData},
		{domain.ErrUnsupportedOperation, protocol.OpNOKUnsupported},
		{domain.ErrInvalidArgument, protocol.OpNOK},
		{domain.ErrStorage.WithCause(errors.New("disk")), protocol.OpNOK},
		{errors.New("boom"), protocol.OpNOK},
	}
	for _, tt := range tests {
		if got := opcodeForError(tt.err); got != tt.want {
			t.Errorf("opcodeForError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestIsServerFault(t *testing.T) {
	if !isServerFault(domain.ErrStorage) || !isServerFault(errors.New("io")) {
		t.Error("storage and foreign errors are server faults")
	}
	if isServerFault(domain.ErrWrongPassword) || isServerFault(domain.ErrNoData) {
		t.Error("client errors are not server faults")
	}
}

func TestRouter_RecordsMetrics(t *testing.T) {
	r, _, m := newTestRouter(t)
	s := newTestSession(t)
	ctx := context.Background()

	r.Process(ctx, s, &protocol.Envelope{Op: protocol.OpValidateDevice, DevID: 1})
	r.Process(ctx, s, protocol.New("REBOOT"))

	body := scrapeMetrics(t, m)
	for _, want := range []string{
		`iotmesh_requests_total{opcode="VALIDATE_DEVICE",result="NOK_NO_PERMISSIONS"} 1`,
		`iotmesh_requests_total{opcode="unknown",result="NOK_UNSUPPORTED"} 1`,
		`iotmesh_auth_failures_total{stage="device"} 1`,
		`iotmesh_request_duration_seconds_count{opcode="VALIDATE_DEVICE"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func scrapeMetrics(t *testing.T, m *metric.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestAuthStage(t *testing.T) {
	tests := map[protocol.Opcode]string{
		protocol.OpValidateUser:    "user",
		protocol.OpValidateDevice:  "device",
		protocol.OpValidateProgram: "program",
	}
	for op, want := range tests {
		if got := authStage(op); got != want {
			t.Errorf("authStage(%s) = %q, want %q", op, got, want)
		}
	}
}
