package eventbus

import (
	"context"
	"fmt"

	"github.com/nostrswarm/conductor/internal/coreerr"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// SignerResolver resolves the private signing key for a registered agent's
// pubkey. Implemented by *internal/registry.Registry; declared here (rather
// than imported) to keep eventbus from depending on registry's full surface.
type SignerResolver interface {
	PrivateKeyFor(pubkey string) (string, bool)
}

// Handler receives every event the bus accepts (passed signature check and
// whitelist check), tagged with its receive timestamp. Implemented by
// internal/router.
type Handler interface {
	HandleEvent(ctx context.Context, ev nostrcore.Event)
}

// PublishAck describes the outcome of a publish.
type PublishAck struct {
	EventID        string
	AckingRelays   []string
	RequestedRelay int
}

// Bus is the EventBus adapter surface spec.md §4.1 describes.
type Bus interface {
	// Start connects to configured relays and begins delivering accepted
	// events to handler until ctx is cancelled.
	Start(ctx context.Context, handler Handler) error

	// Publish signs content as agentPubKey (resolved via SignerResolver) and
	// publishes kind/content/tags to every connected relay, returning the
	// URLs of the relays that acknowledged. Returns
	// coreerr.ErrTransportUnavailable if none acknowledge within the publish
	// timeout.
	Publish(ctx context.Context, agentPubKey string, kind int, content string, tags nostrcore.Tags) (PublishAck, error)

	// PublishProfile publishes agent's kind-0 profile event, satisfying
	// registry.Publisher.
	PublishProfile(ctx context.Context, agent *nostrcore.Agent) error

	// Stop disconnects from every relay.
	Stop(ctx context.Context) error
}

func errNoSigner(pubkey string) error {
	return fmt.Errorf("%w: no signer registered for %s", coreerr.ErrInvalidInput, pubkey)
}
