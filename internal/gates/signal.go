package gates

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// SignalConfig configures the guest side of the boot signal
type SignalConfig struct {
	Addr     string        // host listener, e.g. 10.0.2.2:1234 under QEMU user networking
	Timeout  time.Duration // give up after this long, 0 means one attempt
	Interval time.Duration // minimum time between dial attempts
}

// Signal runs inside the booted guest: it connects to the host listener to
// prove the system came up. The network may not be ready yet, so dialing is
// retried at most once per Interval until Timeout.
func Signal(ctx context.Context, cfg SignalConfig) error {
	if cfg.Addr == "" {
		return fmt.Errorf("signal address is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	limiter := rate.NewLimiter(rate.Every(cfg.Interval), 1)
	dialer := net.Dialer{Timeout: cfg.Interval}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return fmt.Errorf("no boot listener at %s after %d attempts: %w", cfg.Addr, attempt-1, lastErr)
		}

		conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
		if err == nil {
			return conn.Close()
		}
		lastErr = err
		if cfg.Timeout <= 0 {
			return fmt.Errorf("no boot listener at %s: %w", cfg.Addr, err)
		}
	}
}
