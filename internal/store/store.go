// Package store persists studio sessions so a session survives process
// restarts within its lifetime.
//
// DynamoStore uses a single-table design where all records for a session
// share a partition key (SESSION#{sessionId}). The META record holds the
// workflow snapshot and the gallery order; each gallery item is an
// immutable GALLERY#{itemId} record written once. Image bytes are either
// stored inline or, when an ImageArchive is configured, in object storage
// under content-addressed keys. A TTL attribute (expiresAt) auto-deletes
// records 24 hours after the last save.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/imageutil"
	"github.com/fpang/garment-studio/internal/workflow"
)

// SessionTTL is the lifetime of a persisted session after its last save.
const SessionTTL = 24 * time.Hour

// ImageArchive stores image bytes outside the session records.
type ImageArchive interface {
	Put(ctx context.Context, key string, img *garment.Image) error
	Get(ctx context.Context, key string) (*garment.Image, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// sessionPrefix is the archive prefix of every image of a session.
func sessionPrefix(sessionID string) string {
	return "sessions/" + sessionID + "/"
}

// imageKey derives a content-addressed archive key, so an image shared by
// the working image and a gallery item is stored once.
func imageKey(sessionID string, img *garment.Image) string {
	sum := sha256.Sum256(img.Data)
	return sessionPrefix(sessionID) + "images/" + hex.EncodeToString(sum[:16]) + imageutil.Extension(img.MIMEType)
}

// Memory keeps snapshots in process memory. Expired sessions are treated
// as missing.
type Memory struct {
	mu    sync.Mutex
	snaps map[string]memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

type memoryEntry struct {
	snap    *workflow.Snapshot
	savedAt time.Time
}

// Compile-time interface check.
var _ workflow.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store with SessionTTL.
func NewMemory() *Memory {
	return &Memory{snaps: make(map[string]memoryEntry), ttl: SessionTTL, now: time.Now}
}

func (m *Memory) Save(_ context.Context, snap *workflow.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = memoryEntry{snap: snap, savedAt: m.now()}
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (*workflow.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.snaps[id]
	if !ok || m.now().Sub(e.savedAt) > m.ttl {
		delete(m.snaps, id)
		return nil, garment.Errorf(garment.KindNotFound, "load", "session %s not found", id)
	}
	return e.snap, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}
