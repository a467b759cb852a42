package proxmox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
)

// Probe reads the current status of one guest.
type Probe func(ctx context.Context) (*pveapi.VMStatus, error)

// Condition reports whether a probe result means the previous step has taken
// effect. Transport failures never satisfy a condition.
type Condition func(st *pveapi.VMStatus, err error) bool

// UntilStopped holds once the guest is stopped or no longer known.
func UntilStopped(st *pveapi.VMStatus, err error) bool {
	if err != nil {
		return !pveapi.IsTransport(err)
	}
	return st.Status == "stopped"
}

// UntilGone holds once the status query is rejected.
func UntilGone(_ *pveapi.VMStatus, err error) bool {
	return err != nil && !pveapi.IsTransport(err)
}

// UntilPresent holds once the status query succeeds.
func UntilPresent(_ *pveapi.VMStatus, err error) bool {
	return err == nil
}

// Settler orders dependent hypervisor steps. Settle returns once until holds
// or limit has elapsed; only context cancellation is reported as an error.
type Settler interface {
	Settle(ctx context.Context, limit time.Duration, probe Probe, until Condition) error
}

// FixedSettler always waits the full delay.
type FixedSettler struct{}

func (FixedSettler) Settle(ctx context.Context, limit time.Duration, _ Probe, _ Condition) error {
	if limit <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(limit)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PollSettler probes the guest with exponential backoff and returns as soon as
// the condition holds. It never waits longer than limit, in-flight probes
// included.
type PollSettler struct {
	// InitialInterval defaults to 500ms.
	InitialInterval time.Duration
	Log             logr.Logger
}

var errNotSettled = errors.New("guest has not settled")

func (s PollSettler) Settle(ctx context.Context, limit time.Duration, probe Probe, until Condition) error {
	if limit <= 0 {
		return ctx.Err()
	}
	initial := s.InitialInterval
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 1.5
	b.MaxInterval = limit / 2
	b.MaxElapsedTime = limit

	bounded, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	err := backoff.Retry(func() error {
		if until(probe(bounded)) {
			return nil
		}
		return errNotSettled
	}, backoff.WithContext(b, bounded))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.Log.V(1).Info("guest did not settle in time, continuing", "limit", limit)
	return nil
}
