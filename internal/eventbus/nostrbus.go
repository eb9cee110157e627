package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nostrswarm/conductor/internal/coreerr"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// DefaultPublishTimeout is how long Publish waits for at least one relay OK
// before failing with coreerr.ErrTransportUnavailable (spec.md §4.1).
const DefaultPublishTimeout = 10 * time.Second

// Config configures a NostrBus.
type Config struct {
	Relays         []string
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

func (c *Config) setDefaults() {
	if c.PublishTimeout == 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// NostrBus is the Bus implementation built on github.com/nbd-wtf/go-nostr
// relay connections, grounded on internal/channels/nostr/adapter.go's
// connect/subscribe/publish loop.
type NostrBus struct {
	cfg       Config
	whitelist Whitelist
	signer    SignerResolver
	logger    *slog.Logger

	mu     sync.Mutex
	relays []*nostr.Relay
	seen   sync.Map // event id dedup, per the teacher's Adapter.seen

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a NostrBus. It does not connect until Start is called.
func New(cfg Config, whitelist Whitelist, signer SignerResolver) *NostrBus {
	cfg.setDefaults()
	return &NostrBus{
		cfg:       cfg,
		whitelist: whitelist,
		signer:    signer,
		logger:    cfg.Logger.With("component", "eventbus"),
	}
}

// Start connects to every configured relay and subscribes to SubscribedKinds,
// delivering accepted events to handler until ctx is cancelled or Stop is
// called. Returns coreerr.ErrTransportUnavailable if no relay connects.
func (b *NostrBus) Start(ctx context.Context, handler Handler) error {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	for _, url := range b.cfg.Relays {
		relay, err := nostr.RelayConnect(runCtx, url)
		if err != nil {
			b.logger.Warn("failed to connect to relay", "relay", url, "error", err)
			continue
		}
		b.mu.Lock()
		b.relays = append(b.relays, relay)
		b.mu.Unlock()
		b.logger.Debug("connected to relay", "relay", url)
	}

	b.mu.Lock()
	n := len(b.relays)
	relays := append([]*nostr.Relay(nil), b.relays...)
	b.mu.Unlock()

	if n == 0 {
		cancel()
		return fmt.Errorf("%w: no relay connected", coreerr.ErrTransportUnavailable)
	}

	for _, relay := range relays {
		b.wg.Add(1)
		go b.subscribeToRelay(runCtx, relay, handler)
	}
	return nil
}

func (b *NostrBus) subscribeToRelay(ctx context.Context, relay *nostr.Relay, handler Handler) {
	defer b.wg.Done()

	ints := make([]int, len(SubscribedKinds))
	copy(ints, SubscribedKinds)
	filters := nostr.Filters{{Kinds: ints}}

	sub, err := relay.Subscribe(ctx, filters)
	if err != nil {
		b.logger.Error("failed to subscribe", "relay", relay.URL, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			sub.Unsub()
			return
		case ev := <-sub.Events:
			if ev == nil {
				continue
			}
			b.handleIncoming(ctx, ev, handler)
		}
	}
}

func (b *NostrBus) handleIncoming(ctx context.Context, ev *nostr.Event, handler Handler) {
	if _, loaded := b.seen.LoadOrStore(ev.ID, true); loaded {
		return
	}

	ok, err := ev.CheckSignature()
	if err != nil || !ok {
		b.logger.Warn("rejecting event with invalid signature", "event_id", ev.ID, "error", err)
		return
	}

	if !b.whitelist.Allows(ev.PubKey, int(ev.Kind)) {
		b.logger.Debug("rejecting event from non-whitelisted author", "event_id", ev.ID, "author", ev.PubKey)
		return
	}

	handler.HandleEvent(ctx, toCoreEvent(ev))
}

func toCoreEvent(ev *nostr.Event) nostrcore.Event {
	tags := make(nostrcore.Tags, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		tags = append(tags, nostrcore.Tag(t))
	}
	return nostrcore.Event{
		ID:         ev.ID,
		PubKey:     ev.PubKey,
		Kind:       ev.Kind,
		Content:    ev.Content,
		Tags:       tags,
		CreatedAt:  ev.CreatedAt.Time(),
		ReceivedAt: time.Now(),
		Sig:        ev.Sig,
	}
}

// Publish signs an event as agentPubKey, publishes it to every connected
// relay, and returns the URLs of the relays that acknowledged it (the
// teacher's "first relay to accept wins" Send loop, generalized to fan out to
// all relays for visibility).
func (b *NostrBus) Publish(ctx context.Context, agentPubKey string, kind int, content string, tags nostrcore.Tags) (PublishAck, error) {
	privKey, ok := b.signer.PrivateKeyFor(agentPubKey)
	if !ok {
		return PublishAck{}, errNoSigner(agentPubKey)
	}

	nostrTags := make(nostr.Tags, 0, len(tags))
	for _, t := range tags {
		nostrTags = append(nostrTags, nostr.Tag(t))
	}

	ev := nostr.Event{
		PubKey:    agentPubKey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      kind,
		Tags:      nostrTags,
		Content:   content,
	}
	if err := ev.Sign(privKey); err != nil {
		return PublishAck{}, fmt.Errorf("eventbus: sign event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	b.mu.Lock()
	relays := append([]*nostr.Relay(nil), b.relays...)
	b.mu.Unlock()

	var acked []string
	for _, relay := range relays {
		if err := relay.Publish(publishCtx, ev); err != nil {
			b.logger.Warn("failed to publish to relay", "relay", relay.URL, "error", err)
			continue
		}
		acked = append(acked, relay.URL)
	}

	if len(acked) == 0 {
		return PublishAck{}, fmt.Errorf("%w: no relay acknowledged", coreerr.ErrTransportUnavailable)
	}
	return PublishAck{EventID: ev.ID, AckingRelays: acked, RequestedRelay: len(relays)}, nil
}

// PublishProfile publishes agent's kind-0 profile event.
func (b *NostrBus) PublishProfile(ctx context.Context, agent *nostrcore.Agent) error {
	_, err := b.Publish(ctx, agent.PubKey, KindAgentProfile, agent.Name, nostrcore.Tags{})
	return err
}

// Stop cancels the subscription context and closes every relay connection.
func (b *NostrBus) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Lock()
	relays := append([]*nostr.Relay(nil), b.relays...)
	b.mu.Unlock()

	for _, relay := range relays {
		if err := relay.Close(); err != nil {
			b.logger.Warn("error closing relay", "relay", relay.URL, "error", err)
		}
	}
	b.wg.Wait()
	return nil
}
