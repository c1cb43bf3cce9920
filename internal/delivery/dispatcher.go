// Package delivery hands a packaged archive to the requester over two
// independent channels: the pull link is always registered, push email is
// attempted only when a recipient was given and never fails the job.
package delivery

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/trackmash/api/internal/model"
)

// ArchiveStore is the delivery cache contract the dispatcher needs.
type ArchiveStore interface {
	Put(srcPath, displayName string) (string, error)
	TTL() time.Duration
}

// Mailer sends one archive as an email attachment.
type Mailer interface {
	SendArchive(ctx context.Context, to, filename string, archive []byte, pullURL string) error
}

// Dispatcher performs dual-mode delivery of finished archives.
type Dispatcher struct {
	store   ArchiveStore
	mailer  Mailer // nil disables push delivery
	baseURL string
}

// NewDispatcher creates a dispatcher. mailer may be nil when no mail
// transport is configured; push attempts then report a failed channel.
func NewDispatcher(store ArchiveStore, mailer Mailer, publicBaseURL string) *Dispatcher {
	return &Dispatcher{
		store:   store,
		mailer:  mailer,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Dispatch registers the archive for pull delivery and, when a recipient is
// present, attempts push delivery. Only a cache registration failure is
// returned as an error; push failure is reported in the receipt.
func (d *Dispatcher) Dispatch(ctx context.Context, archivePath, displayName, recipient string) (model.DeliveryReceipt, error) {
	token, err := d.store.Put(archivePath, displayName)
	if err != nil {
		return model.DeliveryReceipt{}, fmt.Errorf("register archive: %w", err)
	}

	receipt := model.DeliveryReceipt{
		Token:     token,
		PullURL:   fmt.Sprintf("%s/download/%s", d.baseURL, token),
		ExpiresAt: time.Now().Add(d.store.TTL()),
		Status:    model.DeliveryPullOnly,
	}

	if recipient == "" {
		return receipt, nil
	}

	if err := d.push(ctx, archivePath, displayName, recipient, receipt.PullURL); err != nil {
		log.Printf("push delivery to %s failed: %v", recipient, err)
		receipt.Status = model.DeliveryPushFailed
		receipt.PushError = truncate(err.Error())
		return receipt, nil
	}

	receipt.Status = model.DeliveryPushed
	return receipt, nil
}

func (d *Dispatcher) push(ctx context.Context, archivePath, displayName, recipient, pullURL string) error {
	if d.mailer == nil {
		return fmt.Errorf("mail transport not configured")
	}
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	return d.mailer.SendArchive(ctx, recipient, displayName, data, pullURL)
}

const maxPushErrorLen = 200

func truncate(s string) string {
	if len(s) > maxPushErrorLen {
		return s[:maxPushErrorLen]
	}
	return s
}
