package protocol

import "log/slog"

// Envelope is the tagged record used for both requests and responses.
//
// Fields are optional; which ones are meaningful depends on Op.
type Envelope struct {
	Op Opcode `cbor:"op"`

	User     string `cbor:"user,omitempty"`
	Password string `cbor:"pwd,omitempty"`
	DevID    int    `cbor:"dev"`
	Domain   string `cbor:"domain,omitempty"`

	Temp  float64            `cbor:"temp"`
	Temps map[string]float64 `cbor:"temps,omitempty"`

	Image     []byte `cbor:"img,omitempty"`
	ImageName string `cbor:"img_name,omitempty"`
	ImageSize int64  `cbor:"img_size,omitempty"`

	ProgramName string `cbor:"prog_name,omitempty"`
	ProgramSize int64  `cbor:"prog_size,omitempty"`
}

// New returns an envelope carrying only an opcode.
func New(op Opcode) *Envelope {
	return &Envelope{Op: op}
}

// LogValue implements slog.LogValuer. Passwords and image bytes are never
// logged.
func (e *Envelope) LogValue() slog.Value {
	if e == nil {
		return slog.StringValue("<nil>")
	}
	attrs := []slog.Attr{slog.String("op", string(e.Op))}
	if e.User != "" {
		attrs = append(attrs, slog.String("user", e.User))
	}
	if e.Domain != "" {
		attrs = append(attrs, slog.String("domain", e.Domain))
	}
	switch e.Op {
	case OpValidateDevice, OpGetUserImage:
		attrs = append(attrs, slog.Int("dev", e.DevID))
	case OpSendTemp:
		attrs = append(attrs, slog.Float64("temp", e.Temp))
	case OpValidateProgram:
		attrs = append(attrs, slog.String("prog_name", e.ProgramName), slog.Int64("prog_size", e.ProgramSize))
	}
	if len(e.Temps) > 0 {
		attrs = append(attrs, slog.Int("temps", len(e.Temps)))
	}
	if e.ImageName != "" || len(e.Image) > 0 {
		attrs = append(attrs, slog.String("img_name", e.ImageName), slog.Int("img_bytes", len(e.Image)))
	}
	return slog.GroupValue(attrs...)
}
