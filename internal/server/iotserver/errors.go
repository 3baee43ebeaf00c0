package iotserver

import (
	"errors"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/protocol"
)

// errorOpcodes maps registry errors to reply opcodes.
var errorOpcodes = []struct {
	err *domain.DomainError
	op  protocol.Opcode
}{
	{domain.ErrWrongPassword, protocol.OpWrongPwd},
	{domain.ErrDeviceBusy, protocol.OpNOKDevID},
	{domain.ErrProgramRejected, protocol.OpNOKTested},
	{domain.ErrNotAuthenticated, protocol.OpNOKNoPermissions},
	{domain.ErrPermissionDenied, protocol.OpNOKNoPermissions},
	{domain.ErrAlreadyExists, protocol.OpNOKAlreadyExists},
	{domain.ErrDomainNotFound, protocol.OpNOKNoDomain},
	{domain.ErrUserNotFound, protocol.OpNOKNoUser},
	{domain.ErrDeviceNotFound, protocol.OpNOKNoDevice},
	{domain.ErrNoData, protocol.OpNOKNoData},
	{domain.ErrUnsupportedOperation, protocol.OpNOKUnsupported},
}

// opcodeForError returns the reply opcode for err, or NOK when err has no
// dedicated opcode.
func opcodeForError(err error) protocol.Opcode {
	for _, m := range errorOpcodes {
		if errors.Is(err, m.err) {
			return m.op
		}
	}
	return protocol.OpNOK
}

// isServerFault reports whether err is the server's problem rather than
// the client's.
func isServerFault(err error) bool {
	if errors.Is(err, domain.ErrStorage) || errors.Is(err, domain.ErrInternalServer) {
		return true
	}
	return !domain.IsDomainError(err, "")
}
