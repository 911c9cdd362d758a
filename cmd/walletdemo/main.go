// Command walletdemo runs the whole lockbox lifecycle in one process: a
// wallet key is split among friend devices, the owner's phone is lost, and
// a fresh install recovers the key from the friends. The recovered key is
// proven intact by re-deriving the wallet address.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/lockbox-recovery-protocol/cmd/flags"
	"github.com/ruteri/lockbox-recovery-protocol/cryptoutils"
	"github.com/ruteri/lockbox-recovery-protocol/device"
	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
	"github.com/ruteri/lockbox-recovery-protocol/storage"
)

func main() {
	app := &cli.App{
		Name:  "walletdemo",
		Usage: "End-to-end demo: split a wallet key among friends, lose the phone, recover",
		Flags: []cli.Flag{
			flags.LogJsonFlag,
			flags.LogDebugFlag,
			flags.LogServiceFlagFn("lockbox-walletdemo"),
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The wallet to protect.
	walletKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	seed := crypto.FromECDSA(walletKey)
	address := crypto.PubkeyToAddress(walletKey.PublicKey)
	logger.Info("Generated wallet", "address", address.Hex())

	network := newMemNetwork()

	owner, err := newDemoDevice(network, "owner-phone", logger)
	if err != nil {
		return err
	}
	friends := make([]*demoDevice, 3)
	for i, name := range []string{"friend-laptop", "friend-tablet", "friend-desktop"} {
		friend, err := newDemoDevice(network, name, logger)
		if err != nil {
			return err
		}
		friends[i] = friend
		go func() { _ = friend.dev.Serve(ctx) }()
	}

	holderIDs := make([]interfaces.PeerID, len(friends))
	for i, friend := range friends {
		record, err := owner.dev.Pair(ctx, friend.dev.ID())
		if err != nil {
			return err
		}
		holderIDs[i] = record.ID
		logger.Info("Paired", "with", record.DisplayName)
	}

	manifest, err := owner.dev.DistributeLockbox(ctx, seed, 2, holderIDs)
	if err != nil {
		return err
	}
	logger.Info("Wallet key split and distributed",
		"lockbox", manifest.ID.String(),
		"holders", manifest.Parts,
		"threshold", manifest.Threshold)

	// The phone is gone. A fresh install recovers from any two friends.
	logger.Info("Phone lost; recovering on a fresh device")
	replacement, err := newDemoDevice(network, "owner-replacement", logger)
	if err != nil {
		return err
	}
	recovered, err := replacement.dev.Recover(ctx, manifest, holderIDs[:2])
	if err != nil {
		return err
	}

	recoveredKey, err := crypto.ToECDSA(recovered)
	if err != nil {
		return err
	}
	recoveredAddress := crypto.PubkeyToAddress(recoveredKey.PublicKey)
	logger.Info("Recovered wallet", "address", recoveredAddress.Hex())

	if recoveredAddress != address {
		logger.Error("Recovered key does not match the original wallet")
		os.Exit(1)
	}
	logger.Info("Addresses match; the wallet survived the lost phone")
	return nil
}

type demoDevice struct {
	dev *device.Device
}

func newDemoDevice(network *memNetwork, name string, logger *slog.Logger) (*demoDevice, error) {
	pub, priv, err := cryptoutils.GenerateKxKeypair()
	if err != nil {
		return nil, err
	}
	sealer, err := cryptoutils.NewSealer(pub, priv)
	if err != nil {
		return nil, err
	}

	id := interfaces.NewPeerID()
	dev, err := device.New(device.Config{
		ID:           id,
		DisplayName:  name,
		Version:      1,
		Mode:         protocol.ModeNormal,
		Sealer:       sealer,
		Transport:    &memTransport{network: network, self: id},
		Shares:       storage.NewMemStore(),
		Log:          logger,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return &demoDevice{dev: dev}, nil
}

// memNetwork delivers messages between the demo's devices in process.
type memNetwork struct {
	mu    sync.Mutex
	boxes map[interfaces.PeerID][]interfaces.Inbound
}

func newMemNetwork() *memNetwork {
	return &memNetwork{boxes: make(map[interfaces.PeerID][]interfaces.Inbound)}
}

type memTransport struct {
	network *memNetwork
	self    interfaces.PeerID
}

func (t *memTransport) Send(_ context.Context, to interfaces.PeerID, payload []byte) error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	t.network.boxes[to] = append(t.network.boxes[to], interfaces.Inbound{From: t.self, Payload: payload})
	return nil
}

func (t *memTransport) Poll(_ context.Context) (interfaces.Inbound, error) {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	box := t.network.boxes[t.self]
	if len(box) == 0 {
		return interfaces.Inbound{}, interfaces.ErrNoMessage
	}
	in := box[0]
	t.network.boxes[t.self] = box[1:]
	return in, nil
}
