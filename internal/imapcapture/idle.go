package imapcapture

import (
	"context"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
)

// waitForMail parks the connection in IDLE (with a polling fallback for
// servers without the extension) until the mailbox changes, the wait
// duration elapses, or the context is canceled. Returning nil means the
// caller should look for unseen mail again.
func waitForMail(ctx context.Context, c *imapclient.Client, wait time.Duration) error {
	idleClient := idle.NewClient(c)

	updates := make(chan imapclient.Update, 10)
	c.Updates = updates
	defer func() { c.Updates = nil }()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, 5*time.Second)
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	stopIdle := func() error {
		close(stop)
		return <-done
	}

	for {
		select {
		case <-ctx.Done():
			_ = stopIdle()
			return nil
		case err := <-done:
			// IDLE ended on its own, usually a dropped connection.
			return err
		case <-timer.C:
			return stopIdle()
		case update := <-updates:
			if _, ok := update.(*imapclient.MailboxUpdate); ok {
				return stopIdle()
			}
		}
	}
}
