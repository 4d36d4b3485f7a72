// Package wol sends Wake-on-LAN magic packets.
package wol

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/mdlayher/wol"

	"github.com/MrSnakeDoc/wakegate/internal/logger"
	"github.com/MrSnakeDoc/wakegate/internal/utils"
)

// DefaultPort is the discard port conventionally used for magic packets.
const DefaultPort = 9

// Client wraps the wol library for mocking.
type Client interface {
	Wake(addr string, mac net.HardwareAddr) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct {
	log logger.Logger
}

// Wake opens a UDP client, sends one magic packet to addr and closes the client.
func (c *DefaultClient) Wake(addr string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer utils.CloseLogged(client, "wol client", c.log)

	return client.Wake(addr, mac)
}

// SendError is returned when a magic packet could not be sent.
type SendError struct {
	MAC string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send magic packet to %s: %v", e.MAC, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Sender sends magic packets with a bounded wait.
type Sender struct {
	client Client
	port   int
	logger logger.Logger
}

// New creates a Sender backed by mdlayher/wol.
func New(port int, log logger.Logger) *Sender {
	return NewWithClient(&DefaultClient{log: log}, port, log)
}

// NewWithClient creates a Sender with a custom client (for testing).
func NewWithClient(client Client, port int, log logger.Logger) *Sender {
	if port <= 0 {
		port = DefaultPort
	}
	return &Sender{client: client, port: port, logger: log}
}

// SendMagicPacket sends one packet for mac to broadcastIP.
// It returns when the packet is out or ctx is done, whichever comes first;
// a send that outlives ctx finishes in the background.
func (s *Sender) SendMagicPacket(ctx context.Context, mac net.HardwareAddr, broadcastIP string) error {
	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return &SendError{MAC: mac.String(), Err: fmt.Errorf("invalid broadcast IP: %q", broadcastIP)}
	}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(s.port))

	done := make(chan error, 1)
	go func() {
		done <- s.client.Wake(addr, mac)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &SendError{MAC: mac.String(), Err: err}
		}
		s.logger.Debug("magic packet sent",
			logger.String("mac", mac.String()),
			logger.String("addr", addr))
		return nil
	case <-ctx.Done():
		return &SendError{MAC: mac.String(), Err: ctx.Err()}
	}
}
