package proxmox

import (
	"context"
	"errors"
	"fmt"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
)

// nodeFloor is the free memory and free disk below which a node is only
// chosen when nothing better was seen before it.
const nodeFloor = 1 << 20

// chooseNode picks the candidate with the most free memory plus free root
// disk. A single candidate is returned without any call. Ties keep the first
// candidate seen; nodes whose statistics cannot be read are skipped.
func (p *Provider) chooseNode(ctx context.Context, c *pveapi.Client, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", provider.Errorf(provider.KeyNodesEmpty, "Please select at least one node.")
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	var (
		best      string
		bestScore uint64
		lastErr   error
	)
	for _, name := range candidates {
		snap, err := c.Nodes().Snapshot(ctx, name)
		if err != nil {
			p.log.V(1).Info("skipping node without statistics", "node", name, "err", err)
			lastErr = err
			continue
		}
		memFree, diskFree := snap.Memory.Free, snap.RootFS.Free
		if bestScore > 0 && (diskFree <= nodeFloor || memFree <= nodeFloor) {
			continue
		}
		if score := diskFree + memFree; score > bestScore {
			best, bestScore = name, score
		}
	}
	if best == "" {
		if lastErr == nil {
			lastErr = errors.New("no candidate node reported free resources")
		}
		return "", provider.APIFailure(fmt.Errorf("choose node: %w", lastErr))
	}
	return best, nil
}

// maxVMIDProbe bounds the walk past ids that are already in use.
const maxVMIDProbe = 10000

// freeVMID moves res.VMID past ids the cluster already uses. The walk starts
// at the reserved id so the row counter stays monotonic.
func freeVMID(ctx context.Context, c *pveapi.Client, res provider.Reservation) (provider.Reservation, error) {
	used, err := c.Nodes().UsedVMIDs(ctx)
	if err != nil {
		return res, provider.APIFailure(err)
	}
	for i := 0; i < maxVMIDProbe; i++ {
		if _, taken := used[uint64(res.VMID)]; !taken {
			return res, nil
		}
		res.VMID++
	}
	return res, provider.Errorf(provider.KeyAPIInternal, "no free vmid at or above %d", res.VMID-maxVMIDProbe)
}
