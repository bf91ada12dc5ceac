// Package events publishes committed ledger entries to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/tutu-network/memberledger/internal/domain"
)

// DefaultSubjectPrefix is prepended to the lower-cased entry type.
const DefaultSubjectPrefix = "memberledger.events"

// publisher is the part of *nats.Conn the bus needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Bus publishes each ledger entry as JSON on <prefix>.<type>.
type Bus struct {
	nc     publisher
	prefix string
}

// Connect dials a NATS server. An empty url returns a nil connection.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// NewBus creates a bus on nc. An empty prefix uses DefaultSubjectPrefix.
func NewBus(nc publisher, prefix string) *Bus {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Bus{nc: nc, prefix: prefix}
}

// Subject returns the subject an entry type is published on.
func (b *Bus) Subject(t domain.EntryType) string {
	return b.prefix + "." + strings.ToLower(string(t))
}

// Publish sends one entry.
func (b *Bus) Publish(ctx context.Context, e domain.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", e.Type, err)
	}
	if err := b.nc.Publish(b.Subject(e.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", b.Subject(e.Type), err)
	}
	return nil
}

// Noop discards every entry. It is used when no NATS url is configured.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, domain.LedgerEntry) error { return nil }

var (
	_ domain.EntryPublisher = (*Bus)(nil)
	_ domain.EntryPublisher = Noop{}
)
