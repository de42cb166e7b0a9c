package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/KE-WhyNot/BE-finance-service-sub000/configs"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/auth"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/wire"
)

// Approver supplies approval tokens for session opens.
type Approver interface {
	Approval(ctx context.Context, keyID, secret string) (auth.Token, error)
}

// AllocatorConfig holds the allocator's vendor limits.
type AllocatorConfig struct {
	// WSURL is the upstream market-data websocket endpoint.
	WSURL string

	// SubscriptionCeiling is the vendor's total registration limit per key.
	// It is split evenly across the requested subscription types.
	SubscriptionCeiling int

	// OpenCooldown is the delay enforced between consecutive session opens.
	// The vendor answers rapid reconnects from one key with "already in use".
	OpenCooldown time.Duration
}

// Allocator partitions the instrument universe into websocket sessions and
// tracks the live ones. It owns the session registry; sessions themselves
// never register or deregister.
type Allocator struct {
	cfg      AllocatorConfig
	approver Approver
	sink     Sink
	logger   *logrus.Logger

	mu       sync.Mutex
	sessions []*Session
}

// NewAllocator wires an allocator from its collaborators.
func NewAllocator(cfg AllocatorConfig, approver Approver, sink Sink, logger *logrus.Logger) *Allocator {
	return &Allocator{
		cfg:      cfg,
		approver: approver,
		sink:     sink,
		logger:   logger,
	}
}

// Partitions splits codes into per-(credential, subscription type) chunks of
// at most maxPerSession, filled in input order. Every code lands in exactly
// one chunk per pair.
func Partitions(codes []string, creds []configs.Credential, types []wire.SubscriptionType, maxPerSession int) []Partition {
	var partitions []Partition
	for _, cred := range creds {
		for _, subType := range types {
			for _, chunk := range chunkCodes(codes, maxPerSession) {
				partitions = append(partitions, Partition{
					Credential: cred,
					SubType:    subType,
					Codes:      chunk,
				})
			}
		}
	}
	return partitions
}

// chunkCodes splits a code list into chunks of at most size, preserving order.
func chunkCodes(codes []string, size int) [][]string {
	if size < 1 {
		panic("chunkCodes: size must be greater than 0")
	}

	length := len(codes)
	if length == 0 {
		return nil
	}
	chunks := make([][]string, 0, (length+size-1)/size)
	for i := 0; i < length; i += size {
		end := min(i+size, length)
		chunks = append(chunks, codes[i:end])
	}
	return chunks
}

// Start tears down any running sessions, partitions the instrument list, and
// opens one session per partition with the configured cooldown between
// opens. A failed token exchange skips that credential's partitions; a
// failed open skips that partition. Neither aborts the whole start.
func (a *Allocator) Start(ctx context.Context, codes []string, creds []configs.Credential, types []wire.SubscriptionType) error {
	if len(types) == 0 {
		return fmt.Errorf("no subscription types requested")
	}
	if len(creds) == 0 {
		return fmt.Errorf("no credentials available")
	}

	a.StopAll()

	maxPerSession := a.cfg.SubscriptionCeiling / len(types)
	if maxPerSession < 1 {
		return fmt.Errorf("subscription ceiling %d cannot serve %d types", a.cfg.SubscriptionCeiling, len(types))
	}

	partitions := Partitions(codes, creds, types, maxPerSession)
	a.logger.WithFields(logrus.Fields{
		"instruments":     len(codes),
		"partitions":      len(partitions),
		"max_per_session": maxPerSession,
	}).Info("Allocating feed sessions")

	// Sequential, throttled opens. The cooldown is a vendor connection-churn
	// limit, so this loop is deliberately not parallelized.
	limiter := rate.NewLimiter(rate.Every(a.cfg.OpenCooldown), 1)

	for _, partition := range partitions {
		token, err := a.approver.Approval(ctx, partition.Credential.KeyID, partition.Credential.Secret)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"key_id": partition.Credential.KeyID,
				"error":  err,
			}).Error("Approval failed, skipping partition")
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		session := NewSession(a.cfg.WSURL, token.Value, partition, a.sink, a.logger)
		if err := session.Open(ctx); err != nil {
			a.logger.WithFields(logrus.Fields{
				"key_id": partition.Credential.KeyID,
				"tr_id":  string(partition.SubType),
				"error":  err,
			}).Error("Session open failed, skipping partition")
			continue
		}

		a.mu.Lock()
		a.sessions = append(a.sessions, session)
		a.mu.Unlock()
	}

	return nil
}

// StopAll closes every registered session and clears the registry. Safe to
// call when nothing is open.
func (a *Allocator) StopAll() {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = nil
	a.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	if len(sessions) > 0 {
		a.logger.WithField("sessions", len(sessions)).Info("All feed sessions stopped")
	}
}

// ActiveCount reports the size of the live-session registry.
func (a *Allocator) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
