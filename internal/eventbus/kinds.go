// Package eventbus implements the EventBus adapter (spec.md §4.1): it wraps
// github.com/nbd-wtf/go-nostr relay connections, verifies signatures and the
// author whitelist, and hands accepted events to the Router; outbound
// publish resolves a signer from the AgentRegistry and fans out to every
// configured relay.
//
// Grounded directly on internal/channels/nostr/adapter.go's Adapter: relay
// connection management (nostr.RelayConnect), per-relay subscription
// goroutines, sync.Map event-id dedup, nostr.Event.Sign/CheckSignature, and
// the "first relay to accept wins" publish loop. Conductor's bus broadcasts
// conversation events in the clear (no NIP-04 DM encryption — the teacher's
// adapter is a 1:1 direct-message channel; conductor's bus is a shared
// multi-party feed per spec.md §3), so nip04 is not used here.
package eventbus

// Numeric transport event kinds (spec.md §6), named to avoid scattering
// magic numbers through Router/TurnRunner/ToolDispatcher.
const (
	KindAgentProfile   = 0
	KindStatus         = 1
	KindChatMessage    = 11
	KindReaction       = 7
	KindThreadReply    = 1111
	KindAgentLesson    = 4129
	KindAgentDefinition = 4199
	KindProjectStatus  = 24010
	KindTypingStart    = 24111
	KindTypingStop     = 24112
)

// SubscribedKinds is the set the bus subscribes to at startup (spec.md §4.1:
// "subscribes to the kinds enumerated in §6").
var SubscribedKinds = []int{
	KindChatMessage,
	KindThreadReply,
	KindStatus,
	KindTypingStart,
	KindTypingStop,
	KindProjectStatus,
	KindAgentProfile,
	KindAgentLesson,
	KindReaction,
}

// publiclyReadableKinds never require the author to be on the whitelist
// (spec.md §4.1's "explicitly public" carve-out).
var publiclyReadableKinds = map[int]bool{
	KindStatus:      true,
	KindAgentLesson: true,
}

// IsPubliclyReadable reports whether events of kind are whitelist-exempt.
func IsPubliclyReadable(kind int) bool {
	return publiclyReadableKinds[kind]
}
