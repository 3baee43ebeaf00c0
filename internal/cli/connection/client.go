package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/iotmesh-go/internal/protocol"
)

// DefaultPort is used when the server address carries no port.
const DefaultPort = 12345

// DefaultTimeout bounds one request/response round trip.
const DefaultTimeout = 30 * time.Second

var (
	// ErrCommunication reports a transport or decoding failure. The client
	// is closed afterwards.
	ErrCommunication = errors.New("communication error")

	// ErrServerClosed reports that the server ended the session.
	ErrServerClosed = errors.New("server closed the session")

	// ErrNotConnected is returned by calls on a closed client.
	ErrNotConnected = errors.New("not connected")
)

// Client sends requests to the server one at a time.
type Client struct {
	stream  *protocol.Stream
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// Dial connects to addr. An address without a port gets DefaultPort.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	addr = WithDefaultPort(addr)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrCommunication, addr, err)
	}
	return NewClient(conn, timeout), nil
}

// NewClient wraps an established connection. timeout <= 0 selects
// DefaultTimeout.
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		stream:  protocol.NewStream(conn, 0),
		timeout: timeout,
	}
}

// WithDefaultPort appends DefaultPort to addr when it has none.
func WithDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	host := strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(DefaultPort))
}

// RemoteAddr returns the server address.
func (c *Client) RemoteAddr() net.Addr {
	return c.stream.RemoteAddr()
}

// Do sends req and returns the server's response.
func (c *Client) Do(req *protocol.Envelope) (*protocol.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrNotConnected
	}
	if err := c.stream.Write(req, c.timeout); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("%w: send %s: %w", ErrCommunication, req.Op, err)
	}
	resp, err := c.stream.Read(c.timeout)
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("%w: receive %s response: %w", ErrCommunication, req.Op, err)
	}
	if resp.Op == protocol.OpEOS {
		// The server is going away; acknowledge so it can finish cleanly.
		_ = c.stream.Write(protocol.New(protocol.OpOKAccepted), c.timeout)
		c.closeLocked()
		return nil, ErrServerClosed
	}
	return resp, nil
}

// Close closes the connection without saying goodbye. Use Exit for an
// orderly logout.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.stream.Close()
}

// ValidateUser authenticates user, creating the account on first use.
// It returns OK_USER, OK_NEW_USER or WRONG_PWD.
func (c *Client) ValidateUser(user, password string) (protocol.Opcode, error) {
	req := protocol.New(protocol.OpValidateUser)
	req.User = user
	req.Password = password
	return c.op(req)
}

// ValidateDevice claims device id for the authenticated user.
// It returns OK_DEVID or NOK_DEVID when the id is held by another session.
func (c *Client) ValidateDevice(id int) (protocol.Opcode, error) {
	req := protocol.New(protocol.OpValidateDevice)
	req.DevID = id
	return c.op(req)
}

// ValidateProgram declares the client program identity.
func (c *Client) ValidateProgram(name string, size int64) (protocol.Opcode, error) {
	req := protocol.New(protocol.OpValidateProgram)
	req.ProgramName = name
	req.ProgramSize = size
	return c.op(req)
}

// CreateDomain creates a domain owned by the session user.
func (c *Client) CreateDomain(name string) (protocol.Opcode, error) {
	req := protocol.New(protocol.OpCreateDomain)
	req.Domain = name
	return c.op(req)
}

// AddUserToDomain adds user to a domain the session user owns.
func (c *Client) AddUserToDomain(user, domain string) (protocol.Opcode, error) {
	req := protocol.New(protocol.OpAddUserDomain)
	req.User = user
	req.Domain = domain
	return c.op(req)
}

// RegisterDevice registers the session device in domain.
func (c *Client) RegisterDevice(domain string) (protocol.Opcode, error) {
	req := protocol.New(protocol.OpRegisterDeviceDomain)
	req.Domain = domain
	return c.op(req)
}

// SendTemperature reports a temperature reading.
func (c *Client) SendTemperature(value float64) (protocol.Opcode, error) {
	req := protocol.New(protocol.OpSendTemp)
	req.Temp = value
	return c.op(req)
}

// SendImage uploads an image under name.
func (c *Client) SendImage(name string, data []byte) (protocol.Opcode, error) {
	req := protocol.New(protocol.OpSendImage)
	req.ImageName = name
	req.Image = data
	req.ImageSize = int64(len(data))
	return c.op(req)
}

// GetTemperatures returns the latest readings of every device in domain.
// The map is nil unless the opcode is OK_ACCEPTED.
func (c *Client) GetTemperatures(domain string) (map[string]float64, protocol.Opcode, error) {
	req := protocol.New(protocol.OpGetTemp)
	req.Domain = domain
	resp, err := c.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.Op != protocol.OpOKAccepted {
		return nil, resp.Op, nil
	}
	return resp.Temps, resp.Op, nil
}

// Image is an image downloaded from the server.
type Image struct {
	Name string
	Data []byte
}

// GetUserImage downloads the latest image of device user:id. The image
// is nil unless the opcode is OK_ACCEPTED.
func (c *Client) GetUserImage(user string, id int) (*Image, protocol.Opcode, error) {
	req := protocol.New(protocol.OpGetUserImage)
	req.User = user
	req.DevID = id
	resp, err := c.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.Op != protocol.OpOKAccepted {
		return nil, resp.Op, nil
	}
	data := resp.Image
	if resp.ImageSize > 0 && resp.ImageSize < int64(len(data)) {
		data = data[:resp.ImageSize]
	}
	return &Image{Name: resp.ImageName, Data: data}, resp.Op, nil
}

// Exit ends the session and closes the connection.
func (c *Client) Exit() (protocol.Opcode, error) {
	op, err := c.op(protocol.New(protocol.OpExit))
	_ = c.Close()
	if errors.Is(err, ErrServerClosed) {
		return protocol.OpOKAccepted, nil
	}
	return op, err
}

func (c *Client) op(req *protocol.Envelope) (protocol.Opcode, error) {
	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	return resp.Op, nil
}
