package eventbus

// Whitelist is the set of pubkeys permitted to author non-public events
// (spec.md §4.1). Built once at startup from config.json; read-only
// thereafter, so no locking is needed.
type Whitelist map[string]bool

// NewWhitelist builds a Whitelist from a list of hex pubkeys.
func NewWhitelist(pubkeys []string) Whitelist {
	w := make(Whitelist, len(pubkeys))
	for _, pk := range pubkeys {
		w[pk] = true
	}
	return w
}

// Allows reports whether an event from author, of the given kind, should be
// accepted: either the author is whitelisted, or the kind is publicly
// readable.
func (w Whitelist) Allows(author string, kind int) bool {
	if IsPubliclyReadable(kind) {
		return true
	}
	return w[author]
}
