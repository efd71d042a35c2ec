package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/pairing"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

// pairingTypes are the message types a pairing session may receive.
var pairingTypes = []string{
	wire.TypePairingRequest,
	wire.TypePairingAccept,
	wire.TypePairingConfirm,
	wire.TypePairingConfirmResponse,
	wire.TypePairingReject,
	wire.TypeError,
}

// inbox subscribes to the pairing message types and funnels them into one
// channel. The returned func drops the subscriptions.
func (a *App) inbox() (chan wire.Envelope, func()) {
	ch := make(chan wire.Envelope, 16)
	var unsubs []func()
	for _, t := range pairingTypes {
		unsubs = append(unsubs, a.sc.On(t, func(env wire.Envelope) {
			select {
			case ch <- env:
			default:
			}
		}))
	}
	return ch, func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// pair starts a pairing session with a device picked from the relay's
// presence list. The generated 4-digit code is shown locally; the user on
// the other device types it in to prove both people are looking at the same
// two screens.
func (a *App) pair(ctx context.Context) error {
	if err := a.connect(ctx); err != nil {
		return err
	}

	peersList, err := a.listPeers(ctx)
	if err != nil {
		return err
	}
	if len(peersList) == 0 {
		fmt.Println("No other devices on the relay. Run 'device respond' on the other device first.")
		return nil
	}

	for i, p := range peersList {
		fmt.Printf("  %d) %s (%s)\n", i+1, p.DisplayName, p.DeviceID)
	}
	choice, err := GetSimpleText(a.reader, "Pick a device to pair with", os.Stdout)
	if err != nil {
		return err
	}
	idx := 0
	if _, err := fmt.Sscanf(choice, "%d", &idx); err != nil || idx < 1 || idx > len(peersList) {
		return fmt.Errorf("invalid choice %q", choice)
	}
	partner := peersList[idx-1]

	inbox, drop := a.inbox()
	defer drop()

	m, first, err := pairing.NewInitiator(a.identity, partner.DeviceID)
	if err != nil {
		return err
	}
	if err := a.sendAll(ctx, first.Outbound); err != nil {
		return err
	}

	fmt.Printf("Pairing code: %s\n", m.Code())
	fmt.Println("Enter this code on the other device.")

	return a.drive(ctx, m, inbox)
}

// respond waits for incoming pairing requests and sync offers, serving them
// until interrupted.
func (a *App) respond(ctx context.Context) error {
	if err := a.connect(ctx); err != nil {
		return err
	}

	inbox, drop := a.inbox()
	defer drop()

	offers := make(chan wire.OfferPayload, 4)
	unsubOffers := a.sc.On(wire.TypeOffer, func(env wire.Envelope) {
		var offer wire.OfferPayload
		if err := json.Unmarshal(env.Payload, &offer); err != nil {
			return
		}
		select {
		case offers <- offer:
		default:
		}
	})
	defer unsubOffers()

	fmt.Printf("Waiting as %q (%s). Ctrl-C to stop.\n", a.identity.DisplayName, a.identity.DeviceID)

	// Keep the presence entry alive; the relay prunes after 60s idle.
	ping := time.NewTicker(25 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ping.C:
			if err := a.sc.Send(ctx, wire.TypePresencePing, wire.JoinPayload{DeviceID: a.identity.DeviceID}); err != nil {
				log.Printf("ping failed: %v", err)
			}
		case env := <-inbox:
			if env.Type != wire.TypePairingRequest {
				continue
			}
			if err := a.handlePairingRequest(ctx, env, inbox); err != nil {
				log.Printf("pairing failed: %v", err)
			}
		case offer := <-offers:
			go func() {
				if err := a.engine.Respond(ctx, offer, printProgress); err != nil {
					log.Printf("sync with %s failed: %v", offer.FromDeviceID, err)
					return
				}
				fmt.Printf("Synced with %s.\n", offer.FromDeviceID)
			}()
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *App) handlePairingRequest(ctx context.Context, env wire.Envelope, inbox chan wire.Envelope) error {
	m := pairing.NewResponder(a.identity)
	if _, err := m.Handle(env); err != nil {
		return err
	}

	fmt.Printf("Pairing request from %q (%s).\n", m.PartnerName(), m.PartnerID())

	for {
		code, err := GetSimpleText(a.reader, "Enter the 4-digit code shown on the other device (empty to refuse)", os.Stdout)
		if err != nil {
			return err
		}
		if code == "" {
			res, _ := m.Cancel()
			return a.sendAll(ctx, res.Outbound)
		}

		res, err := m.EnterCode(code)
		if err != nil {
			return err
		}
		if err := a.sendAll(ctx, res.Outbound); err != nil {
			return err
		}

		err = a.drive(ctx, m, inbox)
		if errors.Is(err, common.ErrorWrongCode) {
			fmt.Println("Wrong code, try again.")
			continue
		}
		return err
	}
}

// drive feeds relay messages into the machine until the session reaches a
// terminal state, persisting the trust record on success.
func (a *App) drive(ctx context.Context, m *pairing.Machine, inbox chan wire.Envelope) error {
	for {
		select {
		case env := <-inbox:
			res, err := m.Handle(env)
			if sendErr := a.sendAll(ctx, res.Outbound); sendErr != nil {
				return sendErr
			}
			if res.Record != nil {
				if err := a.repos.Pairings.Upsert(ctx, res.Record); err != nil {
					return err
				}
				fmt.Printf("Paired with %q (%s).\n", res.Record.PartnerDisplayName, res.Record.PartnerDeviceID)
			}
			if err != nil {
				return err
			}
			switch m.State() {
			case pairing.StateEstablished:
				return nil
			case pairing.StateRejected, pairing.StateExpired:
				if res.Reason != "" {
					return fmt.Errorf("pairing ended: %s", res.Reason)
				}
				return errors.New("pairing ended")
			}
		case <-ctx.Done():
			res, _ := m.Cancel()
			_ = a.sendAll(context.Background(), res.Outbound)
			return ctx.Err()
		}
	}
}
