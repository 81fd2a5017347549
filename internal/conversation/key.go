// Package conversation derives the deterministic identifier that groups all
// messages between two participants (optionally scoped to a campaign) into a
// single thread. It is the one authoritative implementation: every place that
// needs a conversation id must derive it here, never re-implement it.
package conversation

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/leadsup/capture/internal/identity"
)

// KeyLength is the fixed length of a conversation key. Stored keys depend on
// this value; changing it requires migrating every existing thread and
// message row.
const KeyLength = 32

// DeriveKey maps two participant addresses and an optional campaign id to a
// stable conversation key. The key is symmetric in the participants: a reply
// from B to A lands in the same conversation as the original from A to B.
// Keys for the same parties under different campaigns never collide, and a
// campaign-less key differs from every campaign-scoped one.
func DeriveKey(partyA, partyB, campaignID string) (string, error) {
	a, err := identity.Normalize(partyA)
	if err != nil {
		return "", fmt.Errorf("invalid participant %q: %w", partyA, err)
	}
	b, err := identity.Normalize(partyB)
	if err != nil {
		return "", fmt.Errorf("invalid participant %q: %w", partyB, err)
	}

	participants := []string{a, b}
	sort.Strings(participants)

	base := strings.Join(participants, "|")
	if campaignID != "" {
		base += "|" + campaignID
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(base))
	cleaned := stripNonAlphanumeric(encoded)
	for len(cleaned) < KeyLength {
		cleaned += "0"
	}

	return cleaned[:KeyLength], nil
}

func stripNonAlphanumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
