package iotserver

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/core/service"
	"github.com/yndnr/iotmesh-go/internal/protocol"
	"github.com/yndnr/iotmesh-go/internal/storage"
	"github.com/yndnr/iotmesh-go/internal/storage/memory"
	"github.com/yndnr/iotmesh-go/internal/telemetry/metric"
)

const (
	testProgramName = "client"
	testProgramSize = 1024
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) *service.Registry {
	t.Helper()
	store := storage.NewKVStore(memory.New(), discardLogger())
	reg, err := service.NewRegistry(context.Background(), store, service.RegistryConfig{
		Program: service.ProgramIdentity{Name: testProgramName, Size: testProgramSize},
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func newTestRouter(t *testing.T) (*Router, *service.Registry, *metric.Registry) {
	t.Helper()
	reg := newTestRegistry(t)
	m := metric.NewRegistry()
	return NewRouter(reg, m, discardLogger()), reg, m
}

func newTestSession(t *testing.T) *domain.Session {
	t.Helper()
	s, err := domain.NewSession("192.0.2.1:40000")
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s
}

// handshake drives s to COMPLETE as user/devID and fails the test otherwise.
func handshake(t *testing.T, r *Router, s *domain.Session, user string, devID int) {
	t.Helper()
	steps := []struct {
		req  *protocol.Envelope
		want []protocol.Opcode
	}{
		{&protocol.Envelope{Op: protocol.OpValidateUser, User: user, Password: user + "-pw"}, []protocol.Opcode{protocol.OpOKNewUser, protocol.OpOKUser}},
		{&protocol.Envelope{Op: protocol.OpValidateDevice, DevID: devID}, []protocol.Opcode{protocol.OpOKDevID}},
		{&protocol.Envelope{Op: protocol.OpValidateProgram, ProgramName: testProgramName, ProgramSize: testProgramSize}, []protocol.Opcode{protocol.OpOKTested}},
	}
	for _, st := range steps {
		resp := r.Process(context.Background(), s, st.req)
		ok := false
		for _, w := range st.want {
			ok = ok || resp.Op == w
		}
		if !ok {
			t.Fatalf("%s: got %s, want one of %v", st.req.Op, resp.Op, st.want)
		}
	}
}

// exchange writes req on client and returns the next envelope.
func exchange(t *testing.T, client *protocol.Stream, req *protocol.Envelope) *protocol.Envelope {
	t.Helper()
	if err := client.Write(req, testIOTimeout); err != nil {
		t.Fatalf("write %s: %v", req.Op, err)
	}
	resp, err := client.Read(testIOTimeout)
	if err != nil {
		t.Fatalf("read reply to %s: %v", req.Op, err)
	}
	return resp
}
