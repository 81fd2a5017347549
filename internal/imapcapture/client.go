// Package imapcapture polls campaign sender mailboxes for unseen replies and
// feeds them to the ingestion coordinator. It covers senders whose provider
// offers no inbound webhook: anything with an IMAP endpoint works.
package imapcapture

import (
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
)

// Connect dials the IMAP server with a 5-second timeout.
// useTLS: true for production, false for tests against a local server.
func Connect(server string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, server, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, server)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}

// Login authenticates with the IMAP server.
func Login(c *client.Client, username, password string) error {
	if err := c.Login(username, password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	return nil
}

// UnseenUIDs returns the UIDs of unseen messages in the selected mailbox,
// oldest first when the server supports SORT. Ingesting in date order keeps
// thread previews and counters moving forward with the conversation.
func UnseenUIDs(c *client.Client) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	sortClient := sortthread.NewSortClient(c)
	if ok, err := sortClient.SupportSort(); err == nil && ok {
		uids, err := sortClient.UidSort([]sortthread.SortCriterion{{Field: sortthread.SortDate}}, criteria)
		if err != nil {
			return nil, fmt.Errorf("failed to sort unseen messages: %w", err)
		}
		return uids, nil
	}

	// Server without SORT. UID order approximates arrival order.
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen messages: %w", err)
	}

	return uids, nil
}

// FetchFullMessage fetches the envelope and full body for a UID.
func FetchFullMessage(c *client.Client, uid uint32) (*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	msg := <-messages
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("server did not return message %d", uid)
	}

	return msg, nil
}

// MarkSeen flags a message as seen so the next poll skips it.
func MarkSeen(c *client.Client, uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark message %d seen: %w", uid, err)
	}

	return nil
}
