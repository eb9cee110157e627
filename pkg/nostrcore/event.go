// Package nostrcore holds the data model conductor shares with its callers:
// the wire-level Event shape, Agent identities, Conversation/Milestone/Lesson
// records, and the small value types that flow between components.
//
// Types here are intentionally thin. Conductor treats events as opaque beyond
// the tag contract it defines (see internal/eventbus/kinds.go); it does not
// reimplement NIP-01 framing, which is left to github.com/nbd-wtf/go-nostr.
package nostrcore

import "time"

// Tag is an ordered tuple; by convention Tag[0] is the tag name.
type Tag []string

// Name returns the tag's first element, or "" for a malformed/empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's second element, or "" if absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is an ordered list of tags, matching the Nostr wire format.
type Tags []Tag

// Find returns the first tag with the given name, and whether one was found.
func (t Tags) Find(name string) (Tag, bool) {
	for _, tag := range t {
		if tag.Name() == name {
			return tag, true
		}
	}
	return nil, false
}

// All returns every tag with the given name, in order.
func (t Tags) All(name string) []Tag {
	var out []Tag
	for _, tag := range t {
		if tag.Name() == name {
			out = append(out, tag)
		}
	}
	return out
}

// Event is the core's view of a signed bus event. The core treats content and
// signature as opaque; it only interprets Kind and the tag names it defines.
type Event struct {
	// ID is the event hash, as computed by the transport.
	ID string

	// PubKey is the author's public key (hex-encoded, 32 bytes).
	PubKey string

	// Kind is the numeric event kind (see internal/eventbus/kinds.go).
	Kind int

	// Content is the event's opaque payload.
	Content string

	// Tags carries ordered string tuples; the first element of each tag is
	// its name.
	Tags Tags

	// CreatedAt is the author-asserted creation time.
	CreatedAt time.Time

	// ReceivedAt is stamped by the EventBus adapter on receipt (§4.1 step 3).
	// Zero for events this process has not yet received off the wire.
	ReceivedAt time.Time

	// Sig is the transport signature, carried opaquely.
	Sig string
}

// ConversationID extracts the conversation id per §6: the first unmarked
// "e" tag. If absent, the event is itself a conversation root and its own
// ID is the conversation id.
//
// Tag shape follows NIP-10: ["e", eventId, relayHint, marker]. The marker
// lives at index 3, not index 2 (index 2 is an optional, often-blank relay
// hint) — a marked tag like the task tag ["e", taskId, "", "task"] has a
// blank relay hint but a non-blank marker, and must not be mistaken for an
// unmarked conversation-root/previous-event tag.
func (e *Event) ConversationID() string {
	for _, tag := range e.Tags {
		if tag.Name() != "e" {
			continue
		}
		// An unmarked e-tag has no marker element, or a blank one.
		if len(tag) < 4 || tag[3] == "" {
			return tag.Value()
		}
	}
	return e.ID
}

// AddressedAgents returns the hex pubkeys named in "p" tags.
func (e *Event) AddressedAgents() []string {
	var out []string
	for _, tag := range e.Tags.All("p") {
		if v := tag.Value(); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// TaskID returns the task id from a marked "e" tag of the form
// ["e", taskId, "", "task"] (spec.md §6), or "" if this event is not tagged
// to a task chain.
func (e *Event) TaskID() string {
	for _, tag := range e.Tags.All("e") {
		if len(tag) >= 4 && tag[3] == "task" {
			return tag.Value()
		}
	}
	return ""
}

// PreviousEventID returns the event id this event links to for its task
// chain, per the "e"-tag-with-no-marker convention used for replies
// (spec.md §6, §8 invariant 2). Returns "" if this is the first event in its
// chain.
func (e *Event) PreviousEventID() string {
	for _, tag := range e.Tags.All("e") {
		if len(tag) >= 2 {
			return tag.Value()
		}
	}
	return ""
}
