package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

func (a *App) listPeers(ctx context.Context) ([]wire.PeerInfo, error) {
	reply, err := a.sc.Request(ctx, wire.TypePresenceList, wire.JoinPayload{
		DeviceID: a.identity.DeviceID,
	})
	if err != nil {
		return nil, err
	}

	var list wire.ListPayload
	if err := json.Unmarshal(reply.Payload, &list); err != nil {
		return nil, err
	}
	return list.Devices, nil
}

func (a *App) peers(ctx context.Context) error {
	if err := a.connect(ctx); err != nil {
		return err
	}

	peersList, err := a.listPeers(ctx)
	if err != nil {
		return err
	}

	if len(peersList) == 0 {
		fmt.Println("No other devices on the relay.")
		return nil
	}
	for _, p := range peersList {
		fmt.Printf("%s  %s\n", p.DeviceID, p.DisplayName)
	}
	return nil
}
