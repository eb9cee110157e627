package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhitelist_AllowsWhitelistedAuthor(t *testing.T) {
	w := NewWhitelist([]string{"pubkey-a", "pubkey-b"})
	assert.True(t, w.Allows("pubkey-a", KindChatMessage))
	assert.False(t, w.Allows("pubkey-c", KindChatMessage))
}

func TestWhitelist_PubliclyReadableKindsBypassWhitelist(t *testing.T) {
	w := NewWhitelist(nil)
	assert.True(t, w.Allows("stranger", KindStatus))
	assert.True(t, w.Allows("stranger", KindAgentLesson))
	assert.False(t, w.Allows("stranger", KindChatMessage))
	assert.False(t, w.Allows("stranger", KindThreadReply))
}

func TestSubscribedKinds_CoversTransportTable(t *testing.T) {
	want := []int{KindChatMessage, KindThreadReply, KindStatus, KindTypingStart, KindTypingStop, KindProjectStatus, KindAgentProfile, KindAgentLesson, KindReaction}
	assert.ElementsMatch(t, want, SubscribedKinds)
}
