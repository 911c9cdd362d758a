package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ruteri/lockbox-recovery-protocol/cmd/flags"
	"github.com/ruteri/lockbox-recovery-protocol/cryptoutils"
	"github.com/ruteri/lockbox-recovery-protocol/device"
	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/lockbox"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
	"github.com/ruteri/lockbox-recovery-protocol/relay"
	"github.com/ruteri/lockbox-recovery-protocol/storage"
	"github.com/urfave/cli/v2"
)

const protocolVersion = 1

var flagPeer = &cli.StringFlag{
	Name:  "peer",
	Usage: "peer id (UUID) to run the exchange with",
}
var flagHolder = &cli.StringSliceFlag{
	Name:  "holder",
	Usage: "peer id of a share holder; repeat for each",
}
var flagSecretFile = &cli.StringFlag{
	Name:  "secret-file",
	Usage: "file containing the secret to split",
}
var flagPassphraseFile = &cli.StringFlag{
	Name:  "passphrase-file",
	Usage: "derive the secret from this passphrase instead of reading secret-file",
}
var flagSalt = &cli.StringFlag{
	Name:  "salt",
	Usage: "salt for passphrase derivation, at least 8 bytes; keep it stable per lockbox",
}
var flagThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "how many shares reassemble the secret",
}
var flagLockbox = &cli.StringFlag{
	Name:  "lockbox",
	Usage: "lockbox id, 64-char hex",
}
var flagTimeout = &cli.Int64Flag{
	Name:  "timeout-seconds",
	Value: 30,
	Usage: "how long to wait for peers before giving up",
}

var deviceFlags = []cli.Flag{
	flags.StateDirFlag,
	flags.RelayAddrFlag,
	flags.RelayDomainFlag,
	flags.ShareStoreFlag,
	flags.LogJsonFlag,
	flags.LogDebugFlag,
	flags.LogServiceFlagFn("lockbox-peer"),
}

func main() {
	app := &cli.App{
		Name:  "peer",
		Usage: "Lockbox device: pair with peers, distribute shares, recover secrets",
		Commands: []*cli.Command{
			{
				Name:        "init",
				Usage:       "create this device's identity",
				Description: "Generates a peer id and key-exchange keypair under the state directory.",
				Flags:       append([]cli.Flag{flags.DisplayNameFlag}, deviceFlags...),
				Action:      runInit,
			},
			{
				Name:   "pair",
				Usage:  "pair with another device",
				Flags:  append([]cli.Flag{flagPeer, flagTimeout}, deviceFlags...),
				Action: runPair,
			},
			{
				Name:   "distribute",
				Usage:  "split a secret and place one share with each holder",
				Flags:  append([]cli.Flag{flagSecretFile, flagPassphraseFile, flagSalt, flagThreshold, flagHolder, flagTimeout}, deviceFlags...),
				Action: runDistribute,
			},
			{
				Name:   "update",
				Usage:  "re-split a secret and replace the share each holder keeps",
				Flags:  append([]cli.Flag{flagSecretFile, flagPassphraseFile, flagSalt, flagThreshold, flagHolder, flagTimeout}, deviceFlags...),
				Action: runUpdate,
			},
			{
				Name:   "keepalive",
				Usage:  "probe every paired peer and report who answered",
				Flags:  append([]cli.Flag{flagTimeout}, deviceFlags...),
				Action: runKeepAlive,
			},
			{
				Name:   "recover",
				Usage:  "collect shares from holders and reassemble a secret",
				Flags:  append([]cli.Flag{flagLockbox, flagThreshold, flagHolder, flagTimeout}, deviceFlags...),
				Action: runRecover,
			},
			{
				Name:        "serve",
				Usage:       "answer peers: hold placed shares, supply them during recovery",
				Description: "Polls the relay and performs holder duties until interrupted.",
				Flags:       deviceFlags,
				Action:      runServe,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// identityFile is the persisted device identity.
type identityFile struct {
	ID             interfaces.PeerID `json:"id"`
	DisplayName    string            `json:"display_name"`
	KxPrivkey      string            `json:"kx_privkey"`
	SigningPrivkey string            `json:"signing_privkey,omitempty"`
}

func runInit(cCtx *cli.Context) error {
	name := cCtx.String(flags.DisplayNameFlag.Name)
	if name == "" {
		return errors.New("display-name is required")
	}

	stateDir, err := expandPath(cCtx.String(flags.StateDirFlag.Name))
	if err != nil {
		return err
	}
	identityPath := filepath.Join(stateDir, "identity.json")
	if _, err := os.Stat(identityPath); err == nil {
		return fmt.Errorf("identity already exists at %s", identityPath)
	}

	_, priv, err := cryptoutils.GenerateKxKeypair()
	if err != nil {
		return fmt.Errorf("failed to generate key-exchange keypair: %w", err)
	}
	_, signPriv, err := cryptoutils.GenerateSigningKeypair()
	if err != nil {
		return fmt.Errorf("failed to generate signing keypair: %w", err)
	}

	identity := identityFile{
		ID:             interfaces.NewPeerID(),
		DisplayName:    name,
		KxPrivkey:      hex.EncodeToString(priv),
		SigningPrivkey: hex.EncodeToString(signPriv),
	}
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(identityPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity: %w", err)
	}

	fmt.Printf("device %s initialized, peer id %s\n", name, identity.ID)
	return nil
}

func runPair(cCtx *cli.Context) error {
	dev, logger, err := loadDevice(cCtx)
	if err != nil {
		return err
	}
	peer, err := interfaces.ParsePeerID(cCtx.String(flagPeer.Name))
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cCtx)
	defer cancel()

	record, err := dev.Pair(ctx, peer)
	if err != nil {
		logger.Error("Pairing failed", "err", err)
		return err
	}
	fmt.Printf("paired with %s (%s)\n", record.DisplayName, record.ID)
	return nil
}

func runDistribute(cCtx *cli.Context) error {
	return placeShares(cCtx, false)
}

func runUpdate(cCtx *cli.Context) error {
	return placeShares(cCtx, true)
}

func placeShares(cCtx *cli.Context, update bool) error {
	dev, logger, err := loadDevice(cCtx)
	if err != nil {
		return err
	}
	holders, err := parseHolders(cCtx)
	if err != nil {
		return err
	}
	secret, err := loadSecret(cCtx)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cCtx)
	defer cancel()

	threshold := cCtx.Int(flagThreshold.Name)
	var manifest lockbox.Manifest
	if update {
		manifest, err = dev.UpdateLockboxShares(ctx, secret, threshold, holders)
		if err != nil {
			logger.Error("Share update failed", "err", err)
			return err
		}
	} else {
		manifest, err = dev.DistributeLockbox(ctx, secret, threshold, holders)
		if err != nil {
			logger.Error("Distribution failed", "err", err)
			return err
		}
	}

	if err := saveManifest(cCtx, manifest); err != nil {
		logger.Warn("Failed to back up lockbox manifest", "err", err)
	}

	fmt.Printf("lockbox %s: %d shares placed, %d needed to recover\n",
		manifest.ID, len(holders), threshold)
	return nil
}

// loadSecret reads the secret to split, either verbatim from secret-file
// or derived from a passphrase and salt.
func loadSecret(cCtx *cli.Context) ([]byte, error) {
	if passFile := cCtx.String(flagPassphraseFile.Name); passFile != "" {
		passphrase, err := os.ReadFile(passFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		secret, err := cryptoutils.DeriveSecret(passphrase, []byte(cCtx.String(flagSalt.Name)))
		if err != nil {
			return nil, fmt.Errorf("failed to derive secret: %w", err)
		}
		return secret, nil
	}

	secretFile := cCtx.String(flagSecretFile.Name)
	if secretFile == "" {
		return nil, errors.New("either secret-file or passphrase-file is required")
	}
	secret, err := os.ReadFile(secretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return secret, nil
}

// saveManifest backs up the owner's lockbox metadata under the state
// directory so recover can look the threshold and signing pubkey up later.
func saveManifest(cCtx *cli.Context, manifest lockbox.Manifest) error {
	stateDir, err := expandPath(cCtx.String(flags.StateDirFlag.Name))
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Join(stateDir, "own")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifest.ID.String()+".json"), data, 0600)
}

func loadManifest(cCtx *cli.Context, id protocol.LockboxID) (lockbox.Manifest, error) {
	stateDir, err := expandPath(cCtx.String(flags.StateDirFlag.Name))
	if err != nil {
		return lockbox.Manifest{}, err
	}
	data, err := os.ReadFile(filepath.Join(stateDir, "own", id.String()+".json"))
	if err != nil {
		return lockbox.Manifest{}, err
	}
	var manifest lockbox.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return lockbox.Manifest{}, err
	}
	return manifest, nil
}

func runKeepAlive(cCtx *cli.Context) error {
	dev, _, err := loadDevice(cCtx)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cCtx)
	defer cancel()

	results, err := dev.KeepAlivePeers(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Alive {
			fmt.Printf("%s (%s): alive, mode %s\n", r.Peer.DisplayName, r.Peer.ID, r.Mode)
		} else {
			fmt.Printf("%s (%s): no answer, last seen %s\n",
				r.Peer.DisplayName, r.Peer.ID, r.Peer.LastSeen.Format(time.RFC3339))
		}
	}
	return nil
}

func runRecover(cCtx *cli.Context) error {
	dev, logger, err := loadDevice(cCtx)
	if err != nil {
		return err
	}
	holders, err := parseHolders(cCtx)
	if err != nil {
		return err
	}

	var id protocol.LockboxID
	if err := id.UnmarshalText([]byte(cCtx.String(flagLockbox.Name))); err != nil {
		return fmt.Errorf("invalid lockbox id: %w", err)
	}

	// The backed-up manifest carries the threshold and the signing pubkey
	// that lets recovery reject tampered shares. Without it the command
	// still works from the flags alone, unverified.
	manifest, err := loadManifest(cCtx, id)
	if err != nil {
		manifest = lockbox.Manifest{ID: id, Threshold: cCtx.Int(flagThreshold.Name)}
	}
	if cCtx.IsSet(flagThreshold.Name) {
		manifest.Threshold = cCtx.Int(flagThreshold.Name)
	}

	ctx, cancel := commandContext(cCtx)
	defer cancel()

	secret, err := dev.Recover(ctx, manifest, holders)
	if err != nil {
		logger.Error("Recovery failed", "err", err)
		return err
	}

	// The secret goes to stdout and nowhere else.
	os.Stdout.Write(secret)
	return nil
}

func runServe(cCtx *cli.Context) error {
	dev, logger, err := loadDevice(cCtx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-exit
		logger.Info("Shutdown signal received")
		cancel()
	}()

	logger.Info("Serving peers", "peer_id", dev.ID().String())
	if err := dev.Serve(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadDevice assembles a Device from the persisted identity and the
// command-line configuration.
func loadDevice(cCtx *cli.Context) (*device.Device, *slog.Logger, error) {
	logger := flags.SetupLogger(cCtx)

	stateDir, err := expandPath(cCtx.String(flags.StateDirFlag.Name))
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(filepath.Join(stateDir, "identity.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read identity (run 'peer init' first): %w", err)
	}
	var identity identityFile
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, nil, fmt.Errorf("failed to parse identity: %w", err)
	}

	priv, err := hex.DecodeString(identity.KxPrivkey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode key-exchange privkey: %w", err)
	}
	pub, err := cryptoutils.KxPrivkey(priv).Public()
	if err != nil {
		return nil, nil, err
	}
	sealer, err := cryptoutils.NewSealer(pub, priv)
	if err != nil {
		return nil, nil, err
	}

	// Identities created before share signing existed have no persisted
	// signing key; the device then generates an ephemeral one.
	var signingKey cryptoutils.SigningPrivkey
	if identity.SigningPrivkey != "" {
		raw, err := hex.DecodeString(identity.SigningPrivkey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode signing privkey: %w", err)
		}
		signingKey = cryptoutils.SigningPrivkey(raw)
	}

	shares, err := openShareStore(cCtx, stateDir, logger)
	if err != nil {
		return nil, nil, err
	}

	peers, err := device.NewPeerRegistry(filepath.Join(stateDir, "peers.json"), logger)
	if err != nil {
		return nil, nil, err
	}

	transport, err := openTransport(cCtx, identity.ID)
	if err != nil {
		return nil, nil, err
	}

	dev, err := device.New(device.Config{
		ID:          identity.ID,
		DisplayName: identity.DisplayName,
		Version:     protocolVersion,
		Mode:        protocol.ModeNormal,
		Sealer:      sealer,
		SigningKey:  signingKey,
		Transport:   transport,
		Shares:      shares,
		Peers:       peers,
		Log:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return dev, logger, nil
}

func openShareStore(cCtx *cli.Context, stateDir string, logger *slog.Logger) (interfaces.ShareStore, error) {
	uris := cCtx.StringSlice(flags.ShareStoreFlag.Name)
	if len(uris) == 0 {
		uris = []string{"file://" + filepath.Join(stateDir, "shares")}
	}

	locations := make([]interfaces.ShareStoreLocation, 0, len(uris))
	for _, uri := range uris {
		loc, err := interfaces.NewShareStoreLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}

	factory := storage.NewFactory(logger)
	if len(locations) == 1 {
		return factory.StoreFor(locations[0])
	}
	return factory.CreateMultiStore(locations)
}

func openTransport(cCtx *cli.Context, self interfaces.PeerID) (interfaces.MessageTransport, error) {
	if domain := cCtx.String(flags.RelayDomainFlag.Name); domain != "" {
		endpoints, err := relay.ResolveRelayEndpoints(domain)
		if err != nil {
			return nil, fmt.Errorf("failed to discover relay: %w", err)
		}
		if len(endpoints) == 0 {
			return nil, fmt.Errorf("no relay endpoints published for %s", domain)
		}
		return relay.NewClient("http://"+endpoints[0], self), nil
	}
	return relay.NewClient(cCtx.String(flags.RelayAddrFlag.Name), self), nil
}

func parseHolders(cCtx *cli.Context) ([]interfaces.PeerID, error) {
	raw := cCtx.StringSlice(flagHolder.Name)
	if len(raw) == 0 {
		return nil, errors.New("at least one --holder is required")
	}
	holders := make([]interfaces.PeerID, 0, len(raw))
	for _, s := range raw {
		id, err := interfaces.ParsePeerID(s)
		if err != nil {
			return nil, err
		}
		holders = append(holders, id)
	}
	return holders, nil
}

func commandContext(cCtx *cli.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(cCtx.Int64(flagTimeout.Name)) * time.Second
	return context.WithTimeout(context.Background(), timeout)
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
