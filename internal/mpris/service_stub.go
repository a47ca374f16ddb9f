//go:build !linux

package mpris

import "context"

// Start is a no-op; MPRIS only exists on Linux desktops
func (s *Service) Start(ctx context.Context) error {
	if s.enabled {
		s.logger.Info("MPRIS session is only supported on Linux")
	}
	return nil
}

// Stop is a no-op on non-Linux platforms
func (s *Service) Stop() error {
	return s.detach()
}
