//go:build linux

package mpris

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// Start claims the MPRIS bus name and begins mirroring playback
func (s *Service) Start(ctx context.Context) error {
	if !s.enabled {
		s.logger.Info("MPRIS session disabled")
		return nil
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(mprisBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("bus name %s already taken", mprisBusName)
	}

	p := s.attach(ctx, conn)
	for _, iface := range []string{mprisInterface, mprisPlayerInterface, propertiesInterface} {
		if err := conn.Export(p, mprisObjectPath, iface); err != nil {
			_ = s.detach()
			conn.Close()
			return fmt.Errorf("failed to export %s: %w", iface, err)
		}
	}

	s.mu.Lock()
	s.closer = func() error {
		if _, err := conn.ReleaseName(mprisBusName); err != nil {
			s.logger.Debug("Failed to release bus name", zap.Error(err))
		}
		return conn.Close()
	}
	s.mu.Unlock()

	s.logger.Info("MPRIS session registered", zap.String("name", mprisBusName))
	return nil
}

// Stop leaves the hub and releases the bus
func (s *Service) Stop() error {
	return s.detach()
}
