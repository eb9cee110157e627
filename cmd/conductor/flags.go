package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"
)

// projectFlags are shared by every subcommand that operates against a
// project directory.
type projectFlags struct {
	projectPath string
	profile     string
	nsec        string
	relays      []string
}

func (f *projectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.projectPath, "project-path", os.Getenv("PROJECTS_PATH"), "project root (or set PROJECTS_PATH)")
	cmd.Flags().StringVar(&f.profile, "profile", "", "profile name (~/.conductor/profiles/<name>.yaml)")
	cmd.Flags().StringVar(&f.nsec, "nsec", "", "process identity, bech32 nsec-encoded")
	cmd.Flags().StringSliceVar(&f.relays, "relay", nil, "relay URL (repeatable); defaults to the active profile's relays")
}

func (f *projectFlags) validate() error {
	if strings.TrimSpace(f.projectPath) == "" {
		return fmt.Errorf("%s", "--project-path is required (or set PROJECTS_PATH)")
	}
	return nil
}

// decodeNsec decodes a bech32 nsec string to its hex private key and
// derived hex pubkey. Returns zero values if nsec is empty — a process
// identity is optional for commands that don't need to sign anything
// themselves (task seeding authors its synthetic event under this key when
// given, or under the fixed placeholder pubkey "conductor-cli-task-seed"
// otherwise).
func decodeNsec(nsec string) (privKey, pubKey string, err error) {
	if strings.TrimSpace(nsec) == "" {
		return "", "", nil
	}
	prefix, value, err := nip19.Decode(nsec)
	if err != nil {
		return "", "", fmt.Errorf("decode nsec: %w", err)
	}
	if prefix != "nsec" {
		return "", "", fmt.Errorf("expected an nsec-prefixed key, got %q", prefix)
	}
	sk, ok := value.(string)
	if !ok {
		return "", "", fmt.Errorf("unexpected nsec decode value type %T", value)
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return "", "", fmt.Errorf("derive pubkey: %w", err)
	}
	return sk, pk, nil
}
