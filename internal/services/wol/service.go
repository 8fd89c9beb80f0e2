// Package wol wakes the backup server before a remote run.
package wol

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

const (
	// DefaultPort is the UDP port magic packets are sent to.
	DefaultPort = 9
	// sshPort is assumed when PollAddr has no port.
	sshPort = "22"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client sends magic packets. addr is the broadcast host:port.
type Client interface {
	Wake(addr string, mac net.HardwareAddr) error
}

// Dialer opens the TCP connections used to poll the server.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultClient sends packets over UDP with mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet for mac to addr.
func (c *DefaultClient) Wake(addr string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return errors.Wrap(err, "failed to create WOL client")
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(addr, mac); err != nil {
		return errors.Wrap(err, "failed to send WOL packet")
	}
	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	dialer    Dialer
	logger    zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClients(logger, &DefaultClient{}, &net.Dialer{Timeout: 5 * time.Second})
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, dialer Dialer) *Impl {
	return &Impl{
		wolClient: wolClient,
		dialer:    dialer,
		logger:    logger,
	}
}

// Wake sends a magic packet and, when cfg.PollAddr is set, waits until the
// server accepts TCP connections there. Failures are reported in the result.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()
	defer func() { result.WaitDuration = time.Since(start) }()

	mac, addr, err := packetTarget(cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}

	s.logger.Info().
		Str("mac", mac.String()).
		Str("broadcast", addr).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(addr, mac); err != nil {
		result.Error = err
		return result, nil
	}
	result.PacketSent = true

	if cfg.PollAddr == "" {
		result.TargetReady = true
		return result, nil
	}

	pollAddr := withDefaultPort(cfg.PollAddr)
	s.logger.Info().
		Str("addr", pollAddr).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for server to accept connections")

	if err := s.awaitTarget(ctx, pollAddr, cfg.Timeout, cfg.PollInterval); err != nil {
		result.Error = err
		return result, nil
	}

	if err := settle(ctx, cfg.StabilizeWait); err != nil {
		result.Error = err
		return result, nil
	}

	result.TargetReady = true
	s.logger.Info().Dur("duration", time.Since(start)).Msg("server is up")
	return result, nil
}

// packetTarget validates the MAC and broadcast address of cfg.
func packetTarget(cfg models.WOLConfig) (net.HardwareAddr, string, error) {
	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		return nil, "", errors.Wrapf(err, "invalid MAC address %q", cfg.MACAddress)
	}

	ip := net.ParseIP(cfg.BroadcastIP)
	if ip == nil {
		return nil, "", errors.Newf("invalid broadcast IP: %s", cfg.BroadcastIP)
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return mac, net.JoinHostPort(ip.String(), strconv.Itoa(port)), nil
}

func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, sshPort)
}

// awaitTarget dials addr every interval until a connection is accepted, ctx
// is done or timeout elapses.
func (s *Impl) awaitTarget(ctx context.Context, addr string, timeout, interval time.Duration) error {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		conn, err := s.dialer.DialContext(pollCtx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		lastErr = err
		s.logger.Debug().Err(err).Msg("server not ready yet")

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(lastErr, "timeout waiting for %s after %s", addr, timeout)
		case <-ticker.C:
		}
	}
}

// settle gives the server's services time to start after its port opened.
func settle(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
