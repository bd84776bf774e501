package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDPrefix tags an identifier with the entity it names.
type IDPrefix string

const (
	PrefixAccount     IDPrefix = "acc"
	PrefixTransaction IDPrefix = "txn"
	PrefixPayment     IDPrefix = "pay"
)

// IDGenerator generates prefixed ULIDs.
// Within one generator ids are strictly increasing, so sorting by id follows creation order.
type IDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewIDGenerator creates a new generator backed by crypto/rand
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// New returns "<prefix>_<ULID>"
// Example: txn_01ARZ3NDEKTSV4RRFFQ69G5FAV
func (g *IDGenerator) New(prefix IDPrefix) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

func (g *IDGenerator) AccountID() string     { return g.New(PrefixAccount) }
func (g *IDGenerator) TransactionID() string { return g.New(PrefixTransaction) }
func (g *IDGenerator) PaymentID() string     { return g.New(PrefixPayment) }

// ValidateID checks that id carries the prefix and a parseable ULID.
func ValidateID(id string, prefix IDPrefix) bool {
	p, rest, ok := strings.Cut(id, "_")
	if !ok || p != string(prefix) {
		return false
	}
	_, err := ulid.Parse(rest)
	return err == nil
}
