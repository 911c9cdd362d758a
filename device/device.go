package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/lockbox-recovery-protocol/conversation"
	"github.com/ruteri/lockbox-recovery-protocol/cryptoutils"
	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/lockbox"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

var (
	// ErrNotPaired is returned by flows that need a peer's key-exchange
	// pubkey when the peer is not in the registry.
	ErrNotPaired = errors.New("device: peer not paired")

	// ErrPlacementRejected is returned when a peer answers a share
	// placement with anything but ok.
	ErrPlacementRejected = errors.New("device: peer rejected share placement")

	// ErrNotEnoughShares is returned by Recover when the probed holders
	// did not yield a threshold of shares.
	ErrNotEnoughShares = errors.New("device: not enough shares recovered")
)

// Config assembles a Device from its collaborators.
type Config struct {
	// ID is this device's stable identifier on the transport.
	ID interfaces.PeerID

	// DisplayName is the human-readable name announced during pairing.
	DisplayName string

	// Version is the protocol version this device speaks.
	Version uint16

	// Mode is the initial operating mode.
	Mode protocol.OperatingMode

	// Sealer seals share payloads to peers and opens payloads sealed to
	// this device. Its public key is the one announced during pairing.
	Sealer interfaces.ShareSealer

	// SigningKey signs distributed shares so recovery can verify a
	// returned payload is the one this device handed out. Nil means a
	// fresh keypair; the matching pubkey travels in the manifest either
	// way.
	SigningKey cryptoutils.SigningPrivkey

	// Transport moves encoded protocol bytes to and from peers.
	Transport interfaces.MessageTransport

	// Shares persists the sealed shares this device holds for peers.
	Shares interfaces.ShareStore

	// Peers is the paired-peer registry. Nil means a memory-only registry.
	Peers *PeerRegistry

	Log *slog.Logger

	// PollInterval is how long to wait between transport polls when the
	// mailbox is empty. Zero means 200ms.
	PollInterval time.Duration

	// ProbeTimeout bounds a single keepalive probe. Zero means 5s.
	ProbeTimeout time.Duration

	// ConversationTTL is how long an idle conversation survives before
	// Serve prunes it. Zero means 5 minutes.
	ConversationTTL time.Duration
}

// Device is one participant: identity, live conversations, paired peers,
// held shares and a transport to reach the rest of the group. Flows drive
// conversations to completion by pumping the transport; Serve runs the
// device as a pure responder.
//
// A Device is not safe for concurrent use. Run Serve or drive flows, not
// both at once.
type Device struct {
	id         interfaces.PeerID
	log        *slog.Logger
	sealer     interfaces.ShareSealer
	signingKey cryptoutils.SigningPrivkey

	engine     *conversation.Engine
	dispatcher *conversation.Dispatcher

	transport interfaces.MessageTransport
	shares    interfaces.ShareStore
	peers     *PeerRegistry

	pollInterval time.Duration
	probeTimeout time.Duration
	convTTL      time.Duration

	keepaliveCounters map[interfaces.PeerID]uint32
}

// New validates the configuration and assembles a Device.
func New(cfg Config) (*Device, error) {
	if cfg.ID.IsZero() {
		return nil, errors.New("device: id is required")
	}
	if cfg.Sealer == nil {
		return nil, errors.New("device: sealer is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("device: transport is required")
	}
	if cfg.Shares == nil {
		return nil, errors.New("device: share store is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Peers == nil {
		reg, err := NewPeerRegistry("", cfg.Log)
		if err != nil {
			return nil, err
		}
		cfg.Peers = reg
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.ConversationTTL <= 0 {
		cfg.ConversationTTL = 5 * time.Minute
	}
	if cfg.SigningKey == nil {
		_, priv, err := cryptoutils.GenerateSigningKeypair()
		if err != nil {
			return nil, fmt.Errorf("device: %w", err)
		}
		cfg.SigningKey = priv
	} else if err := cfg.SigningKey.Validate(); err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}

	engine, err := conversation.NewEngine(conversation.Config{
		Version:     cfg.Version,
		DisplayName: cfg.DisplayName,
		KxPubkey:    cfg.Sealer.PublicKey(),
		Mode:        cfg.Mode,
	})
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}

	return &Device{
		id:                cfg.ID,
		log:               cfg.Log.With(slog.String("device", cfg.DisplayName)),
		sealer:            cfg.Sealer,
		signingKey:        cfg.SigningKey,
		engine:            engine,
		dispatcher:        conversation.NewDispatcher(engine),
		transport:         cfg.Transport,
		shares:            cfg.Shares,
		peers:             cfg.Peers,
		pollInterval:      cfg.PollInterval,
		probeTimeout:      cfg.ProbeTimeout,
		convTTL:           cfg.ConversationTTL,
		keepaliveCounters: make(map[interfaces.PeerID]uint32),
	}, nil
}

// ID returns the device's transport identifier.
func (d *Device) ID() interfaces.PeerID { return d.id }

// Peers returns the paired-peer registry.
func (d *Device) Peers() *PeerRegistry { return d.peers }

// OperatingMode returns the mode announced on outbound messages.
func (d *Device) OperatingMode() protocol.OperatingMode { return d.engine.OperatingMode() }

// SetOperatingMode changes the mode announced on future outbound messages.
func (d *Device) SetOperatingMode(mode protocol.OperatingMode) error {
	return d.engine.SetOperatingMode(mode)
}

// Serve runs the device as a responder: poll the transport, answer
// whatever arrives, prune idle conversations on the configured cadence.
// It returns when the context is done.
func (d *Device) Serve(ctx context.Context) error {
	prune := time.NewTicker(d.convTTL)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-prune.C:
			if removed := d.dispatcher.PruneIdle(d.convTTL); removed > 0 {
				d.log.Debug("Pruned idle conversations", slog.Int("count", removed))
			}
		default:
		}

		if err := d.step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			d.log.Error("Failed to handle inbound message", "err", err)
		}
	}
}

// Pair runs the pairing exchange with a peer and records its identity in
// the registry.
func (d *Device) Pair(ctx context.Context, peer interfaces.PeerID) (Peer, error) {
	st, err := d.dispatcher.StartConversation(peer, protocol.ProtocolPairing)
	if err != nil {
		return Peer{}, err
	}
	pairing := st.(*conversation.PairingState)
	if err := pairing.Begin(); err != nil {
		return Peer{}, err
	}
	if err := d.flush(ctx, peer, pairing); err != nil {
		return Peer{}, err
	}
	if err := d.awaitTerminal(ctx, pairing); err != nil {
		return Peer{}, fmt.Errorf("pairing with %s: %w", peer, err)
	}

	identity, ok := pairing.Peer()
	if pairing.Status() != conversation.StatusDoneSuccess || !ok {
		return Peer{}, fmt.Errorf("pairing with %s failed", peer)
	}

	record := d.rememberPeer(peer, identity)
	d.log.Info("Paired with peer",
		slog.String("peer", peer.String()),
		slog.String("name", identity.DisplayName))
	return record, nil
}

// DistributeLockbox splits a secret and places one sealed share with each
// holder. Every holder must already be paired; the split uses
// len(holders) parts. The returned manifest is what the owner needs to
// keep to recover later: the lockbox id and the threshold.
func (d *Device) DistributeLockbox(ctx context.Context, secret []byte, threshold int, holders []interfaces.PeerID) (lockbox.Manifest, error) {
	return d.placeShares(ctx, secret, threshold, holders, false)
}

// UpdateLockboxShares re-splits the secret and replaces the share each
// holder keeps. The lockbox id is derived from the secret, so an update
// targets the same lockbox as the original distribution.
func (d *Device) UpdateLockboxShares(ctx context.Context, secret []byte, threshold int, holders []interfaces.PeerID) (lockbox.Manifest, error) {
	return d.placeShares(ctx, secret, threshold, holders, true)
}

func (d *Device) placeShares(ctx context.Context, secret []byte, threshold int, holders []interfaces.PeerID, update bool) (lockbox.Manifest, error) {
	holderKeys := make([][]byte, len(holders))
	for i, peer := range holders {
		record, ok := d.peers.Get(peer)
		if !ok {
			return lockbox.Manifest{}, fmt.Errorf("%w: %s", ErrNotPaired, peer)
		}
		holderKeys[i] = record.KxPubkey
	}

	manifest, shares, err := lockbox.Split(secret, len(holders), threshold)
	if err != nil {
		return lockbox.Manifest{}, err
	}
	defer func() {
		for _, s := range shares {
			wipeBytes(s.Data)
		}
	}()

	if manifest.SigningPubkey, err = d.signingKey.Public(); err != nil {
		return lockbox.Manifest{}, err
	}

	for i, peer := range holders {
		sig, err := cryptoutils.SignShare(d.signingKey, shareSigningInput(manifest.ID, shares[i].Index, shares[i].Data))
		if err != nil {
			return lockbox.Manifest{}, fmt.Errorf("failed to sign share for %s: %w", peer, err)
		}
		sealed, err := d.sealer.Seal(append(sig, shares[i].Data...), holderKeys[i])
		if err != nil {
			return lockbox.Manifest{}, fmt.Errorf("failed to seal share for %s: %w", peer, err)
		}

		st, err := d.dispatcher.StartConversation(peer, protocol.ProtocolLockboxSharesUpdate)
		if err != nil {
			return lockbox.Manifest{}, err
		}
		placement := st.(*conversation.SharesState)
		if update {
			err = placement.BeginUpdate(manifest.ID, shares[i].Index, sealed)
		} else {
			err = placement.BeginStore(manifest.ID, shares[i].Index, sealed)
		}
		if err != nil {
			return lockbox.Manifest{}, err
		}
		if err := d.flush(ctx, peer, placement); err != nil {
			return lockbox.Manifest{}, err
		}
		if err := d.awaitTerminal(ctx, placement); err != nil {
			return lockbox.Manifest{}, fmt.Errorf("placing share with %s: %w", peer, err)
		}
		if status, ok := placement.Result(); !ok || status != protocol.ShareOk {
			return lockbox.Manifest{}, fmt.Errorf("%w: %s answered %s", ErrPlacementRejected, peer, status)
		}

		d.log.Info("Placed lockbox share",
			slog.String("lockbox", manifest.ID.String()),
			slog.Int("share_index", int(shares[i].Index)),
			slog.String("holder", peer.String()),
			slog.Bool("update", update))
	}

	return manifest, nil
}

// KeepAlivePeers probes every paired peer and reports who answered. A
// successful probe refreshes the peer's last-seen timestamp and recorded
// mode.
func (d *Device) KeepAlivePeers(ctx context.Context) ([]PeerHealth, error) {
	results := make([]PeerHealth, 0)
	for _, record := range d.peers.List() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		health := PeerHealth{Peer: record}
		if mode, err := d.probe(ctx, record.ID); err == nil {
			health.Alive = true
			health.Mode = mode
			d.peers.UpdateMode(record.ID, mode)
		} else {
			d.log.Debug("Keepalive probe failed",
				slog.String("peer", record.ID.String()), "err", err)
		}
		results = append(results, health)
	}
	return results, nil
}

// PeerHealth is one keepalive probe's outcome.
type PeerHealth struct {
	Peer  Peer
	Alive bool
	Mode  protocol.OperatingMode
}

func (d *Device) probe(ctx context.Context, peer interfaces.PeerID) (protocol.OperatingMode, error) {
	probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	st, err := d.dispatcher.StartConversation(peer, protocol.ProtocolKeepAlive)
	if err != nil {
		return 0, err
	}
	probe := st.(*conversation.KeepAliveState)

	d.keepaliveCounters[peer]++
	if err := probe.Begin(d.keepaliveCounters[peer]); err != nil {
		return 0, err
	}
	if err := d.flush(probeCtx, peer, probe); err != nil {
		return 0, err
	}
	if err := d.awaitTerminal(probeCtx, probe); err != nil {
		d.dispatcher.Abandon(peer, probe)
		return 0, err
	}

	mode, ok := probe.PeerMode()
	if !ok {
		return 0, errors.New("probe finished without a mode")
	}
	return mode, nil
}

// Recover collects shares for the manifest's lockbox from the given
// holders and reassembles the secret. The device announces recovery mode
// for the duration. Holders need not be paired: each retrieval carries
// this device's key-exchange pubkey so the holder can seal the share to
// it. When the manifest carries a signing pubkey, shares whose owner
// signature does not check out are discarded.
func (d *Device) Recover(ctx context.Context, manifest lockbox.Manifest, holders []interfaces.PeerID) ([]byte, error) {
	id := manifest.ID
	reassembler, err := lockbox.NewReassembler(id, manifest.Threshold)
	if err != nil {
		return nil, err
	}

	previousMode := d.engine.OperatingMode()
	if err := d.engine.SetOperatingMode(protocol.ModeRecovery); err != nil {
		return nil, err
	}
	defer func() {
		if err := d.engine.SetOperatingMode(previousMode); err != nil {
			d.log.Error("Failed to restore operating mode", "err", err)
		}
	}()

	for _, peer := range holders {
		if reassembler.Unlocked() {
			break
		}

		st, err := d.dispatcher.StartConversation(peer, protocol.ProtocolRecovery)
		if err != nil {
			return nil, err
		}
		retrieval := st.(*conversation.RecoveryState)
		if err := retrieval.Begin(id, d.sealer.PublicKey()); err != nil {
			return nil, err
		}
		if err := d.flush(ctx, peer, retrieval); err != nil {
			return nil, err
		}
		if err := d.awaitTerminal(ctx, retrieval); err != nil {
			return nil, fmt.Errorf("retrieving share from %s: %w", peer, err)
		}

		sealed, ok := retrieval.RetrievedShare()
		if !ok {
			status, _ := retrieval.Result()
			d.log.Warn("Holder did not supply a share",
				slog.String("peer", peer.String()),
				slog.String("status", status.String()))
			continue
		}

		plaintext, err := d.sealer.Open(sealed)
		if err != nil {
			d.log.Warn("Failed to open retrieved share",
				slog.String("peer", peer.String()), "err", err)
			continue
		}
		// The holder prepends the share's index to the plaintext before
		// sealing; the retrieval response does not carry it. After the
		// index come the owner's signature and the share data.
		if len(plaintext) < 2+cryptoutils.SignatureSize {
			d.log.Warn("Retrieved share payload too short",
				slog.String("peer", peer.String()))
			continue
		}
		index := plaintext[0]
		sig := plaintext[1 : 1+cryptoutils.SignatureSize]
		data := plaintext[1+cryptoutils.SignatureSize:]

		if len(manifest.SigningPubkey) > 0 {
			if err := cryptoutils.VerifyShare(manifest.SigningPubkey, shareSigningInput(id, index, data), sig); err != nil {
				d.log.Warn("Discarded share with bad owner signature",
					slog.String("peer", peer.String()), "err", err)
				continue
			}
		} else {
			d.log.Warn("Manifest carries no signing pubkey; accepting share unverified",
				slog.String("peer", peer.String()))
		}

		if err := reassembler.SubmitShare(index, data); err != nil {
			d.log.Warn("Rejected retrieved share",
				slog.String("peer", peer.String()), "err", err)
		}
	}

	if !reassembler.Unlocked() {
		return nil, fmt.Errorf("%w: collected %d shares, need %d",
			ErrNotEnoughShares, reassembler.SharesCollected(), manifest.Threshold)
	}
	return reassembler.Secret()
}

// shareSigningInput is the byte string SignShare covers for one share:
// the lockbox id, the share's index and its raw data. Binding the id and
// index stops a holder from replaying a share from another lockbox or
// slot.
func shareSigningInput(id protocol.LockboxID, index uint8, data []byte) []byte {
	msg := make([]byte, 0, len(id)+1+len(data))
	msg = append(msg, id[:]...)
	msg = append(msg, index)
	msg = append(msg, data...)
	return msg
}

// HandleInbound routes one received payload through the dispatcher and
// performs the responder duties the conversation layer leaves to the
// application: persisting placed shares, answering retrievals from the
// share store, recording peer identities.
func (d *Device) HandleInbound(ctx context.Context, in interfaces.Inbound) error {
	res, err := d.dispatcher.Dispatch(in.From, in.Payload)
	if err != nil {
		if errors.Is(err, conversation.ErrUnhandledMessage) {
			d.log.Debug("Discarded unroutable message",
				slog.String("from", in.From.String()),
				slog.String("kind", res.Message.Kind().String()))
			return nil
		}
		return fmt.Errorf("failed to dispatch message from %s: %w", in.From, err)
	}

	d.peers.Touch(in.From)

	switch st := res.State.(type) {
	case *conversation.PairingState:
		if st.Status() == conversation.StatusDoneSuccess {
			if identity, ok := st.Peer(); ok {
				d.rememberPeer(in.From, identity)
			}
		}

	case *conversation.KeepAliveState:
		if mode, ok := st.PeerMode(); ok {
			d.peers.UpdateMode(in.From, mode)
		}

	case *conversation.SharesState:
		if res.Started && !st.Status().Terminal() {
			d.acceptShare(ctx, in.From, st)
		}

	case *conversation.RecoveryState:
		if res.Started && !st.Status().Terminal() {
			d.answerRetrieval(ctx, st)
		}
		if mode, ok := st.PeerMode(); ok {
			d.peers.UpdateMode(in.From, mode)
		}
	}

	return d.flush(ctx, in.From, res.State)
}

// acceptShare persists an inbound share placement and acknowledges it.
func (d *Device) acceptShare(ctx context.Context, from interfaces.PeerID, st *conversation.SharesState) {
	share := interfaces.StoredShare{
		LockboxID: st.Lockbox(),
		Index:     st.ShareIndex(),
		Payload:   st.Payload(),
		Origin:    from,
	}

	status := protocol.ShareOk
	if err := share.Validate(); err != nil {
		d.log.Warn("Refused invalid share placement",
			slog.String("from", from.String()), "err", err)
		status = protocol.ShareRefused
	} else if err := d.shares.Put(ctx, share); err != nil {
		d.log.Error("Failed to persist placed share",
			slog.String("lockbox", share.LockboxID.String()), "err", err)
		status = protocol.ShareRefused
	} else {
		d.log.Info("Holding lockbox share",
			slog.String("lockbox", share.LockboxID.String()),
			slog.Int("share_index", int(share.Index)),
			slog.String("owner", from.String()),
			slog.Bool("update", st.IsUpdate()))
	}

	if err := st.AcknowledgeStore(status); err != nil {
		d.log.Error("Failed to acknowledge share placement", "err", err)
	}
}

// answerRetrieval looks up the held share, re-seals it to the requester's
// key and supplies it, or declines when the device holds nothing usable.
func (d *Device) answerRetrieval(ctx context.Context, st *conversation.RecoveryState) {
	held, err := d.shares.Get(ctx, st.Lockbox())
	if errors.Is(err, interfaces.ErrShareNotFound) {
		d.decline(st, protocol.ShareNotFound)
		return
	}
	if err != nil {
		d.log.Error("Failed to look up held share",
			slog.String("lockbox", st.Lockbox().String()), "err", err)
		d.decline(st, protocol.ShareRefused)
		return
	}

	plaintext, err := d.sealer.Open(held.Payload)
	if err != nil {
		d.log.Error("Failed to open held share",
			slog.String("lockbox", st.Lockbox().String()), "err", err)
		d.decline(st, protocol.ShareRefused)
		return
	}
	defer wipeBytes(plaintext)

	resealed, err := d.sealer.Seal(append([]byte{held.Index}, plaintext...), st.RequesterKxPubkey())
	if err != nil {
		d.log.Error("Failed to re-seal share for requester", "err", err)
		d.decline(st, protocol.ShareRefused)
		return
	}

	if err := st.SupplyShare(resealed); err != nil {
		d.log.Error("Failed to supply share", "err", err)
		return
	}
	d.log.Info("Supplied lockbox share",
		slog.String("lockbox", st.Lockbox().String()),
		slog.Int("share_index", int(held.Index)))
}

func (d *Device) decline(st *conversation.RecoveryState, status protocol.ShareStatus) {
	if err := st.DeclineShare(status); err != nil {
		d.log.Error("Failed to decline share retrieval", "err", err)
	}
}

func (d *Device) rememberPeer(id interfaces.PeerID, identity conversation.PeerIdentity) Peer {
	record := Peer{
		ID:          id,
		DisplayName: identity.DisplayName,
		KxPubkey:    identity.KxPubkey,
		Mode:        identity.Mode,
	}
	if err := d.peers.Upsert(record); err != nil {
		d.log.Error("Failed to persist paired peer", "err", err)
	}
	stored, _ := d.peers.Get(id)
	return stored
}

// flush sends every message the conversation has queued.
func (d *Device) flush(ctx context.Context, peer interfaces.PeerID, st conversation.State) error {
	if st == nil {
		return nil
	}
	for st.HasPendingMessage() {
		msg := st.TakeNextMessageToSend()
		raw, err := protocol.Encode(msg)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", msg.Kind(), err)
		}
		if err := d.transport.Send(ctx, peer, raw); err != nil {
			return fmt.Errorf("failed to send %s to %s: %w", msg.Kind(), peer, err)
		}
	}
	return nil
}

// step polls once and handles whatever arrived, sleeping the poll
// interval when nothing is waiting.
func (d *Device) step(ctx context.Context) error {
	in, err := d.transport.Poll(ctx)
	if errors.Is(err, interfaces.ErrNoMessage) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.pollInterval):
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("transport poll: %w", err)
	}
	return d.HandleInbound(ctx, in)
}

// awaitTerminal pumps the transport until the conversation finishes.
// Messages for other conversations are handled along the way.
func (d *Device) awaitTerminal(ctx context.Context, st conversation.State) error {
	for !st.Status().Terminal() {
		if err := d.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
