package protocol

// Opcode tags every envelope exchanged between a device and the server.
type Opcode string

// Request opcodes.
const (
	OpValidateUser         Opcode = "VALIDATE_USER"
	OpValidateDevice       Opcode = "VALIDATE_DEVICE"
	OpValidateProgram      Opcode = "VALIDATE_PROGRAM"
	OpCreateDomain         Opcode = "CREATE_DOMAIN"
	OpAddUserDomain        Opcode = "ADD_USER_DOMAIN"
	OpRegisterDeviceDomain Opcode = "REGISTER_DEVICE_DOMAIN"
	OpSendTemp             Opcode = "SEND_TEMP"
	OpSendImage            Opcode = "SEND_IMAGE"
	OpGetTemp              Opcode = "GET_TEMP"
	OpGetUserImage         Opcode = "GET_USER_IMAGE"
	OpExit                 Opcode = "EXIT"
	OpEOS                  Opcode = "EOS"
)

// Response opcodes.
const (
	OpOKUser           Opcode = "OK_USER"
	OpOKNewUser        Opcode = "OK_NEW_USER"
	OpWrongPwd         Opcode = "WRONG_PWD"
	OpOKDevID          Opcode = "OK_DEVID"
	OpNOKDevID         Opcode = "NOK_DEVID"
	OpOKTested         Opcode = "OK_TESTED"
	OpNOKTested        Opcode = "NOK_TESTED"
	OpOKAccepted       Opcode = "OK_ACCEPTED"
	OpNOK              Opcode = "NOK"
	OpNOKAlreadyExists Opcode = "NOK_ALREADY_EXISTS"
	OpNOKNoUser        Opcode = "NOK_NO_USER"
	OpNOKNoDomain      Opcode = "NOK_NO_DOMAIN"
	OpNOKNoPermissions Opcode = "NOK_NO_PERMISSIONS"
	OpNOKNoDevice      Opcode = "NOK_NO_DEVICE"
	OpNOKNoData        Opcode = "NOK_NO_DATA"
	OpNOKUnsupported   Opcode = "NOK_UNSUPPORTED"
)

// String implements fmt.Stringer.
func (o Opcode) String() string {
	return string(o)
}

// Terminates reports whether the opcode ends the conversation.
func (o Opcode) Terminates() bool {
	return o == OpExit || o == OpEOS
}

// IsAuth reports whether the opcode belongs to the authentication handshake.
func (o Opcode) IsAuth() bool {
	switch o {
	case OpValidateUser, OpValidateDevice, OpValidateProgram:
		return true
	}
	return false
}

// OK reports whether a response opcode signals success.
func (o Opcode) OK() bool {
	switch o {
	case OpOKUser, OpOKNewUser, OpOKDevID, OpOKTested, OpOKAccepted:
		return true
	}
	return false
}
