package domain

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/MrSnakeDoc/wakegate/internal/logger"
	"github.com/MrSnakeDoc/wakegate/internal/utils"
)

// CheckTCP reports whether a TCP connection to host:port can be opened within timeout.
// Any failure (DNS, refused, timeout, cancelled ctx) is returned as a *ProbeError.
func CheckTCP(ctx context.Context, host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: -1,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &ProbeError{Addr: addr, Err: err}
	}
	utils.Close(conn) // the handshake is all we need

	return nil
}

// TCPProber is the production reachability probe.
type TCPProber struct {
	Logger logger.Logger
}

// Probe returns true when host:port accepts a TCP connection before timeout.
func (p *TCPProber) Probe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	err := CheckTCP(ctx, host, port, timeout)
	if p.Logger != nil {
		if err != nil {
			p.Logger.Debug("probe failed",
				logger.String("host", host),
				logger.Int("port", port),
				logger.Error(err))
		} else {
			p.Logger.Debug("probe succeeded",
				logger.String("host", host),
				logger.Int("port", port))
		}
	}
	return err == nil
}
