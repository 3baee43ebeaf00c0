package iotserver

import (
	"context"
	"errors"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/protocol"
)

// fail logs err and returns a reply carrying op.
func (r *Router) fail(s *domain.Session, req *protocol.Envelope, err error, op protocol.Opcode) *protocol.Envelope {
	if isServerFault(err) {
		r.logger.Error("request failed", "session_id", s.ID, "opcode", req.Op, "error", err)
	} else {
		r.logger.Debug("request rejected", "session_id", s.ID, "opcode", req.Op, "reply", op, "error", err)
	}
	return protocol.New(op)
}

func (r *Router) handleValidateUser(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	created, err := r.registry.ValidateUser(ctx, s, req.User, req.Password)
	if err != nil {
		// Every failure looks like a wrong password to the device.
		return r.fail(s, req, err, protocol.OpWrongPwd)
	}
	if created {
		return protocol.New(protocol.OpOKNewUser)
	}
	return protocol.New(protocol.OpOKUser)
}

func (r *Router) handleValidateDevice(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	if err := r.registry.ClaimDevice(ctx, s, req.DevID); err != nil {
		if errors.Is(err, domain.ErrNotAuthenticated) {
			return r.fail(s, req, err, protocol.OpNOKNoPermissions)
		}
		return r.fail(s, req, err, protocol.OpNOKDevID)
	}
	return protocol.New(protocol.OpOKDevID)
}

func (r *Router) handleValidateProgram(_ context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	if err := r.registry.VerifyProgram(s, req.ProgramName, req.ProgramSize); err != nil {
		return r.fail(s, req, err, protocol.OpNOKTested)
	}
	return protocol.New(protocol.OpOKTested)
}

func (r *Router) handleCreateDomain(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	if err := r.registry.CreateDomain(ctx, s, req.Domain); err != nil {
		return r.fail(s, req, err, opcodeForError(err))
	}
	return protocol.New(protocol.OpOKAccepted)
}

func (r *Router) handleAddUserDomain(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	if err := r.registry.AddUserToDomain(ctx, s, req.User, req.Domain); err != nil {
		return r.fail(s, req, err, opcodeForError(err))
	}
	return protocol.New(protocol.OpOKAccepted)
}

func (r *Router) handleRegisterDeviceDomain(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	if err := r.registry.RegisterDeviceToDomain(ctx, s, req.Domain); err != nil {
		return r.fail(s, req, err, opcodeForError(err))
	}
	return protocol.New(protocol.OpOKAccepted)
}

func (r *Router) handleSendTemp(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	if err := r.registry.SendTemperature(ctx, s, req.Temp); err != nil {
		return r.fail(s, req, err, opcodeForError(err))
	}
	return protocol.New(protocol.OpOKAccepted)
}

func (r *Router) handleSendImage(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	if err := r.registry.SendImage(ctx, s, req.ImageName, req.Image, req.ImageSize); err != nil {
		return r.fail(s, req, err, opcodeForError(err))
	}
	return protocol.New(protocol.OpOKAccepted)
}

func (r *Router) handleGetTemp(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	temps, err := r.registry.TemperaturesInDomain(ctx, s, req.Domain)
	if err != nil {
		return r.fail(s, req, err, opcodeForError(err))
	}
	return &protocol.Envelope{
		Op:     protocol.OpOKAccepted,
		Domain: req.Domain,
		Temps:  temps,
	}
}

func (r *Router) handleGetUserImage(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	img, err := r.registry.UserImage(ctx, s, req.User, req.DevID)
	if err != nil {
		return r.fail(s, req, err, opcodeForError(err))
	}
	return &protocol.Envelope{
		Op:        protocol.OpOKAccepted,
		User:      req.User,
		DevID:     req.DevID,
		Image:     img.Data,
		ImageName: img.Name,
		ImageSize: int64(len(img.Data)),
	}
}

// handleTerminate serves EXIT and EOS. Closing is idempotent, so the reply
// is always OK_ACCEPTED.
func (r *Router) handleTerminate(_ context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	if r.registry.CloseSession(s) {
		r.logger.Info("device released", "session_id", s.ID, "device", s.DeviceName(), "opcode", req.Op)
	}
	return protocol.New(protocol.OpOKAccepted)
}
