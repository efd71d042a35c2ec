package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
)

func printProgress(done, total int) {
	fmt.Printf("\r  %d/%d", done, total)
	if done == total {
		fmt.Println()
	}
}

// sync runs a full sync with one paired partner, picked by argument or, when
// there is exactly one pairing, implicitly.
func (a *App) sync(ctx context.Context, args []string) error {
	partner, err := a.resolvePartner(ctx, args)
	if err != nil {
		return err
	}

	if err := a.connect(ctx); err != nil {
		return err
	}

	fmt.Printf("Syncing with %s...\n", partner)
	if err := a.engine.SyncWith(ctx, partner, printProgress); err != nil {
		return err
	}

	state, err := a.repos.SyncState.Get(ctx, partner)
	if err != nil {
		return err
	}
	fmt.Println("Sync complete.")
	if len(state.Conflicts) > 0 {
		fmt.Printf("%d transaction(s) need manual conflict resolution:\n", len(state.Conflicts))
		for _, id := range state.Conflicts {
			fmt.Printf("  %s\n", id)
		}
	}
	return nil
}

// forget removes the pairing and sync state for a partner. The ledger rows
// already received from it stay.
func (a *App) forget(ctx context.Context, args []string) error {
	partner, err := a.resolvePartner(ctx, args)
	if err != nil {
		return err
	}

	if err := a.repos.Pairings.Delete(ctx, partner); err != nil {
		return err
	}
	if err := a.repos.SyncState.Delete(ctx, partner); err != nil {
		return err
	}
	fmt.Printf("Forgot %s.\n", partner)
	return nil
}

func (a *App) resolvePartner(ctx context.Context, args []string) (string, error) {
	// The partner id, when given, comes right after the subcommand; flags
	// follow it.
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], nil
	}

	pairingsList, err := a.repos.Pairings.List(ctx)
	if err != nil {
		return "", err
	}
	switch len(pairingsList) {
	case 0:
		return "", fmt.Errorf("no paired devices; run 'device pair' first")
	case 1:
		return pairingsList[0].PartnerDeviceID, nil
	default:
		return "", fmt.Errorf("multiple paired devices; pass a device id:\n%s", formatPairings(pairingsList))
	}
}

func formatPairings(list []models.PairingRecord) string {
	out := ""
	for _, p := range list {
		out += fmt.Sprintf("  %s  %s\n", p.PartnerDeviceID, p.PartnerDisplayName)
	}
	return out
}
