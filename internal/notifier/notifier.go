// Package notifier
package notifier

import (
	"log"
	"time"
)

// Notifier interface for sending notifications (e.g., Telegram, log).
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
}

// LogNotifier writes notifications to the process log. Used for headless
// runs when no Telegram credentials are configured.
type LogNotifier struct{}

func (LogNotifier) Send(msg string) error {
	log.Printf("Notify | %s", msg)
	return nil
}

func (l LogNotifier) SendWithRetry(msg string) error {
	return l.Send(msg)
}

// sendWithRetry retries a send with a fixed delay between attempts.
func sendWithRetry(n Notifier, msg string, attempts int, delay time.Duration) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = n.Send(msg); err == nil {
			return nil
		}
		log.Printf("Notify | Send attempt %d/%d failed: %v", i, attempts, err)
		if i < attempts {
			time.Sleep(delay)
		}
	}
	return err
}
