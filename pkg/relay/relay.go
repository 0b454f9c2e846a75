// Package relay is the ingress for pre-matched, pre-signed instructions:
// external relays gossip meta-transaction envelopes on a libp2p pubsub topic
// and the relay feeds them through the MetaTransactionGate.
package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/halcyondex/halcyon/pkg/exchange"
)

const defaultTopic = "halcyon-settle-v1"

// Envelope is the wire form of a relayed instruction.
type Envelope struct {
	Nonce         string `json:"nonce"`
	SignerAddress string `json:"signerAddress"`
	Payload       string `json:"payload"` // hex-encoded calldata
	SignatureV    uint8  `json:"sigV"`
	SignatureR    string `json:"sigR"`
	SignatureS    string `json:"sigS"`
}

// Config configures the relay ingress.
type Config struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	Logger     *zap.SugaredLogger
}

// Relay subscribes to the settlement topic and executes inbound envelopes.
type Relay struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	gate  *exchange.MetaTransactionGate
	log   *zap.SugaredLogger
}

// New creates a relay ingress feeding gate.
func New(ctx context.Context, gate *exchange.MetaTransactionGate, cfg Config) (*Relay, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("relay_bootstrap_failed", "addr", bs, "err", err)
		}
	}

	topicName := cfg.Topic
	if topicName == "" {
		topicName = defaultTopic
	}
	topic, err := ps.Join(topicName)
	if err != nil {
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Infow("relay_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", topicName)
	}
	return &Relay{h: h, ps: ps, topic: topic, sub: sub, gate: gate, log: cfg.Logger}, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// Run consumes envelopes until ctx is cancelled. Hard failures (replays, bad
// signatures, malformed payloads) are logged and dropped; a bad envelope from
// one relay must not stall the others.
func (r *Relay) Run(ctx context.Context) {
	for {
		msg, err := r.sub.Next(ctx)
		if err != nil {
			return
		}
		// Skip our own publishes if any component loops back.
		if msg.ReceivedFrom == r.h.ID() {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			if r.log != nil {
				r.log.Warnw("relay_envelope_invalid", "err", err)
			}
			continue
		}

		nonce, signer, payload, sig, err := env.decode()
		if err != nil {
			if r.log != nil {
				r.log.Warnw("relay_envelope_invalid", "err", err)
			}
			continue
		}

		txHash, filled, err := r.gate.Execute(nonce, signer, payload, sig)
		if err != nil {
			if r.log != nil {
				r.log.Warnw("relay_execute_rejected", "tx_hash", txHash.Hex(), "err", err)
			}
			continue
		}
		if r.log != nil && filled != nil {
			r.log.Infow("relay_fill_settled", "tx_hash", txHash.Hex(), "filled", filled.String())
		}
	}
}

// Close shuts down the libp2p host.
func (r *Relay) Close() error {
	r.sub.Cancel()
	return r.h.Close()
}

func (e *Envelope) decode() (*big.Int, common.Address, []byte, exchange.Signature, error) {
	var sig exchange.Signature

	nonce, ok := new(big.Int).SetString(e.Nonce, 10)
	if !ok || nonce.Sign() < 0 {
		return nil, common.Address{}, nil, sig, fmt.Errorf("invalid nonce: %q", e.Nonce)
	}
	if !common.IsHexAddress(e.SignerAddress) {
		return nil, common.Address{}, nil, sig, fmt.Errorf("invalid signer: %q", e.SignerAddress)
	}
	signer := common.HexToAddress(e.SignerAddress)

	payload, err := hex.DecodeString(strings.TrimPrefix(e.Payload, "0x"))
	if err != nil {
		return nil, common.Address{}, nil, sig, fmt.Errorf("invalid payload hex: %w", err)
	}

	rBytes, err := hex.DecodeString(strings.TrimPrefix(e.SignatureR, "0x"))
	if err != nil || len(rBytes) != 32 {
		return nil, common.Address{}, nil, sig, fmt.Errorf("invalid signature r: %q", e.SignatureR)
	}
	sBytes, err := hex.DecodeString(strings.TrimPrefix(e.SignatureS, "0x"))
	if err != nil || len(sBytes) != 32 {
		return nil, common.Address{}, nil, sig, fmt.Errorf("invalid signature s: %q", e.SignatureS)
	}
	sig.V = e.SignatureV
	copy(sig.R[:], rBytes)
	copy(sig.S[:], sBytes)

	return nonce, signer, payload, sig, nil
}
