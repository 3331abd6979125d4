package main

import (
	"fmt"
	"os"
	"strings"
)

// envKeyStore and envTokenStore implement bridge.KeyStore / bridge.TokenStore
// by parsing a flat "cred:principalID:channelID,..." list from an
// environment variable. This is deliberately minimal: a production
// deployment swaps these for a real credential store (the teacher has none
// of its own to ground on, since its agents authenticate via Temporal
// worker identity rather than a handshake header).
type envKeyStore map[string][2]string

func (s envKeyStore) LookupKey(key string) (agentID, channelID string, ok bool) {
	v, ok := s[key]
	if !ok {
		return "", "", false
	}
	return v[0], v[1], true
}

type envTokenStore map[string][2]string

func (s envTokenStore) LookupToken(token string) (userID, channelID string, ok bool) {
	v, ok := s[token]
	if !ok {
		return "", "", false
	}
	return v[0], v[1], true
}

// parseCredentialList parses "cred:principalID:channelID,cred2:..." into a
// map keyed by credential.
func parseCredentialList(raw string) map[string][2]string {
	out := make(map[string][2]string)
	if raw == "" {
		return out
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			fmt.Fprintf(os.Stderr, "orparctl: ignoring malformed credential entry %q\n", entry)
			continue
		}
		out[parts[0]] = [2]string{parts[1], parts[2]}
	}
	return out
}

func loadKeyStore() envKeyStore {
	return envKeyStore(parseCredentialList(os.Getenv("ORPAR_AGENT_KEYS")))
}

func loadTokenStore() envTokenStore {
	return envTokenStore(parseCredentialList(os.Getenv("ORPAR_USER_TOKENS")))
}
