package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type policyReloader interface {
	Reload() error
}

// reloadOnSignal re-reads the auto-approval policy every time sig fires,
// until ctx is done. A failed reload keeps the previous policy.
func reloadOnSignal(ctx context.Context, sig <-chan os.Signal, policy policyReloader, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			entry := logger.WithField("signal", s.String())
			if err := policy.Reload(); err != nil {
				entry.WithError(err).Error("failed to reload auto-approval policy")
				continue
			}
			entry.Info("auto-approval policy reloaded")
		}
	}
}
