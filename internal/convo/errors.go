package convo

import (
	"fmt"

	"github.com/nostrswarm/conductor/internal/coreerr"
)

func errUnknownConversation(id string) error {
	return fmt.Errorf("%w: %s", coreerr.ErrUnknownConversation, id)
}
