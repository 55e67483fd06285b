package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	"github.com/mostro-exchange/mostrod/internal/keys"
	"github.com/mostro-exchange/mostrod/internal/store"
	"github.com/mostro-exchange/mostrod/internal/trade"
	"github.com/mostro-exchange/mostrod/pkg/logging"
)

// giftWrapTopic is the single gossip topic every gift-wrapped rumor is
// published on, standing in for a Nostr relay: every subscriber receives
// every wrap, and only the pubkey named in its RecipientP tag can open it.
// This differs from a real Nostr relay only in that nothing filters
// delivery server-side; all filtering happens client-side in
// Node.handleGiftWrap instead.
const giftWrapTopic = "mostro/giftwrap/v1"

// Node binds the libp2p transport to the trade engine: it is the daemon's
// single entry point, responsible for carrying gift-wrapped rumors to and
// from the network and for publishing the replaceable order-book,
// dispute-board, rating, and daemon-info events. Host/DHT/pubsub/mDNS setup
// and the Start/Stop lifecycle follow the usual libp2p bootstrap pattern;
// gift-wrap dispatch itself lives in dispatch.go.
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	config *Config
	log    *logging.Logger

	mdnsService mdns.Service
	routingDisc *drouting.RoutingDiscovery

	identity *keys.PrivateKey // Mostro trade identity, distinct from the libp2p host key
	store    *store.Store
	engine   *trade.Engine

	giftWrapTopic *pubsub.Topic
	giftWrapSub   *pubsub.Subscription

	topicsMu sync.Mutex
	topics   map[string]*pubsub.Topic // lazily-joined topics for orderbook.Publisher

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	onPeerConnected    func(peer.ID)
	onPeerDisconnected func(peer.ID)

	mu sync.RWMutex
}

// New creates a new Node bound to st, using identity as the daemon's Mostro
// trade key. The trade engine is wired in afterwards via Attach, since
// building it requires an orderbook.Publisher and Node is that publisher:
// construct the Node, hand it to orderbook.New, build the Engine from the
// resulting Book, then Attach it here before calling Start.
func New(ctx context.Context, cfg *Config, identity *keys.PrivateKey, st *store.Store) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)

	node := &Node{
		config:   cfg,
		identity: identity,
		store:    st,
		topics:   make(map[string]*pubsub.Topic),
		ctx:      ctx,
		cancel:   cancel,
		log:      logging.GetDefault().Component("node"),
	}

	privKey, err := node.loadOrCreateKey()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load/create key: %w", err)
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.Network.ListenAddrs))
	for _, addr := range cfg.Network.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	cm, err := connmgr.NewConnManager(
		cfg.Network.ConnMgr.LowWater,
		cfg.Network.ConnMgr.HighWater,
		connmgr.WithGracePeriod(cfg.Network.ConnMgr.GracePeriod),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(cm),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}

	if cfg.Network.EnableNAT {
		opts = append(opts, libp2p.NATPortMap())
	}
	if cfg.Network.EnableRelay {
		opts = append(opts, libp2p.EnableRelay())
	}
	if cfg.Network.EnableHolePunching {
		opts = append(opts, libp2p.EnableHolePunching())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	node.host = h

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(n network.Network, conn network.Conn) {
			go node.rememberPeer(conn)
			node.mu.RLock()
			cb := node.onPeerConnected
			node.mu.RUnlock()
			if cb != nil {
				go cb(conn.RemotePeer())
			}
		},
		DisconnectedF: func(n network.Network, conn network.Conn) {
			node.mu.RLock()
			cb := node.onPeerDisconnected
			node.mu.RUnlock()
			if cb != nil {
				go cb(conn.RemotePeer())
			}
		},
	})

	if cfg.Network.EnableDHT {
		if err := node.initDHT(ctx); err != nil {
			h.Close()
			cancel()
			return nil, fmt.Errorf("failed to initialize DHT: %w", err)
		}
	}

	if err := node.initPubSub(ctx); err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize pubsub: %w", err)
	}

	if cfg.Network.EnableMDNS {
		if err := node.initMDNS(); err != nil {
			node.log.Warn("mDNS initialization failed", "error", err)
		}
	}

	return node, nil
}

// loadOrCreateKey loads an existing libp2p host key or generates a new one.
// This is the transport identity, unrelated to the Mostro trade identity
// used for gift-wrap signing.
func (n *Node) loadOrCreateKey() (crypto.PrivKey, error) {
	keyPath := n.config.Identity.KeyFile
	if !filepath.IsAbs(keyPath) {
		dataDir := expandPath(n.config.Storage.DataDir)
		keyPath = filepath.Join(dataDir, keyPath)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, err
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}

	privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}

	data, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, err
	}

	n.log.Info("generated new libp2p host identity")
	return privKey, nil
}

// initDHT initializes the Kademlia DHT.
func (n *Node) initDHT(ctx context.Context) error {
	var err error
	n.dht, err = dht.New(ctx, n.host,
		dht.Mode(dht.ModeAutoServer),
		dht.ProtocolPrefix(protocol.ID(n.config.DHTPrefix())),
	)
	if err != nil {
		return err
	}
	if err := n.dht.Bootstrap(ctx); err != nil {
		return err
	}
	n.routingDisc = drouting.NewRoutingDiscovery(n.dht)
	return nil
}

// initPubSub initializes GossipSub and joins the gift-wrap topic.
func (n *Node) initPubSub(ctx context.Context) error {
	var err error
	n.pubsub, err = pubsub.NewGossipSub(ctx, n.host,
		pubsub.WithPeerExchange(true),
		pubsub.WithFloodPublish(true),
	)
	if err != nil {
		return err
	}

	topic, err := n.pubsub.Join(giftWrapTopic)
	if err != nil {
		return fmt.Errorf("join gift-wrap topic: %w", err)
	}
	n.giftWrapTopic = topic

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe gift-wrap topic: %w", err)
	}
	n.giftWrapSub = sub

	return nil
}

// initMDNS initializes mDNS discovery for local network peers.
func (n *Node) initMDNS() error {
	n.mdnsService = mdns.NewMdnsService(n.host, n.config.DiscoveryNamespace(), n)
	return n.mdnsService.Start()
}

// rememberPeer persists the connected peer's dialable address so a restart
// can redial known peers before discovery warms up.
func (n *Node) rememberPeer(conn network.Conn) {
	addr := fmt.Sprintf("%s/p2p/%s", conn.RemoteMultiaddr(), conn.RemotePeer())
	if err := n.store.UpsertPeer(conn.RemotePeer().String(), addr); err != nil {
		n.log.Debug("failed to record peer", "peer", shortID(conn.RemotePeer()), "error", err)
	}
}

// HandlePeerFound is called when mDNS discovers a peer.
func (n *Node) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() {
		return
	}
	n.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)
	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
		defer cancel()
		if err := n.host.Connect(ctx, pi); err != nil {
			n.log.Debug("failed to connect to mDNS peer", "peer", shortID(pi.ID), "error", err)
		}
	}()
}

// Attach wires the trade engine into the node; Start registers its reply
// handler. Must be called before Start, after the caller has built eng from
// an orderbook.Book constructed with this Node as its Publisher.
func (n *Node) Attach(eng *trade.Engine) {
	n.engine = eng
}

// Start starts the node: it connects to bootstrap peers, begins peer
// discovery, registers the trade engine's reply handler, and launches the
// gift-wrap read loop and the outbox drain loop.
func (n *Node) Start() error {
	if n.engine == nil {
		return fmt.Errorf("node: Attach must be called before Start")
	}
	n.startTime = time.Now()

	for _, addrStr := range n.config.Network.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			n.log.Warn("invalid bootstrap address", "addr", addrStr, "error", err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			n.log.Warn("invalid bootstrap peer info", "addr", addrStr, "error", err)
			continue
		}
		go func(pi peer.AddrInfo) {
			ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
			defer cancel()
			if err := n.host.Connect(ctx, pi); err != nil {
				n.log.Warn("failed to connect to bootstrap peer", "peer", shortID(pi.ID), "error", err)
			} else {
				n.log.Info("connected to bootstrap peer", "peer", shortID(pi.ID))
			}
		}(*pi)
	}

	// Redial peers remembered from the previous run; cheap compared to
	// waiting for DHT/mDNS discovery to warm up.
	if addrs, err := n.store.RecentPeerAddrs(16); err == nil {
		for _, addr := range addrs {
			go func(addr string) {
				ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
				defer cancel()
				_ = n.ConnectByAddr(ctx, addr)
			}(addr)
		}
	}

	if n.routingDisc != nil {
		go dutil.Advertise(n.ctx, n.routingDisc, n.config.DiscoveryNamespace())
		go n.discoverPeers()
	}

	n.engine.OnReply(n.onEngineReply)
	go n.readGiftWraps()
	go n.drainOutbox()

	return nil
}

// discoverPeers continuously discovers new peers via the DHT.
func (n *Node) discoverPeers() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			peers, err := dutil.FindPeers(n.ctx, n.routingDisc, n.config.DiscoveryNamespace())
			if err != nil {
				continue
			}
			for _, pi := range peers {
				if pi.ID == n.host.ID() {
					continue
				}
				if n.host.Network().Connectedness(pi.ID) == network.Connected {
					continue
				}
				go func(pi peer.AddrInfo) {
					ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
					defer cancel()
					n.host.Connect(ctx, pi)
				}(pi)
			}
		}
	}
}

// Stop stops the node gracefully.
func (n *Node) Stop() error {
	n.cancel()
	n.engine.Close()

	if n.giftWrapSub != nil {
		n.giftWrapSub.Cancel()
	}
	if n.mdnsService != nil {
		n.mdnsService.Close()
	}
	if n.dht != nil {
		n.dht.Close()
	}
	return n.host.Close()
}

// ID returns the node's peer ID.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Addrs returns the node's listen addresses.
func (n *Node) Addrs() []multiaddr.Multiaddr { return n.host.Addrs() }

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int { return len(n.host.Network().Peers()) }

// ConnectByAddr connects to a peer by multiaddr string.
func (n *Node) ConnectByAddr(ctx context.Context, addr string) error {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid multiaddr: %w", err)
	}
	pi, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return fmt.Errorf("invalid peer addr info: %w", err)
	}
	return n.host.Connect(ctx, *pi)
}

// OnPeerConnected sets a callback for when a peer connects.
func (n *Node) OnPeerConnected(cb func(peer.ID)) {
	n.mu.Lock()
	n.onPeerConnected = cb
	n.mu.Unlock()
}

// OnPeerDisconnected sets a callback for when a peer disconnects.
func (n *Node) OnPeerDisconnected(cb func(peer.ID)) {
	n.mu.Lock()
	n.onPeerDisconnected = cb
	n.mu.Unlock()
}

// Uptime returns how long the node has been running.
func (n *Node) Uptime() time.Duration { return time.Since(n.startTime) }

// Identity returns the daemon's Mostro trade public key.
func (n *Node) Identity() *keys.PublicKey { return n.identity.Public() }

// shortID returns a truncated peer ID for logging.
func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
