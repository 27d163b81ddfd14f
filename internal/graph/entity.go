package graph

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lazypower/canopy/internal/events"
	"github.com/lazypower/canopy/internal/store"
)

// Entity names as recorded in the change log.
const (
	entityNotes      = "notes"
	entityBranches   = "branches"
	entityAttributes = "attributes"
	entityBlobs      = "blobs"
)

// entity is the persistence state shared by notes, branches and attributes.
// hash is the content hash of the last persisted (or loaded) state; an
// empty hash means the entity has never been written.
type entity struct {
	cache *Cache
	hash  string
}

func (e *entity) base() *entity { return e }

// persistable is implemented by every cached entity.
type persistable interface {
	base() *entity
	entityName() string
	entityID() string
	ownerNoteID() string
	deleted() bool
	hashFields() []string
	write(ctx context.Context, conn store.Conn) error
}

// newID returns a short random identifier.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func contentHash(fields []string) string {
	sum := sha1.Sum([]byte(strings.Join(fields, "|")))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:10]
}

// save persists e if its content changed since the last save. Unchanged
// entities are not written, do not get a change record and emit no event.
func (c *Cache) save(ctx context.Context, e persistable) error {
	b := e.base()
	hash := contentHash(e.hashFields())
	if hash == b.hash {
		return nil
	}

	kind := events.KindUpdated
	switch {
	case e.deleted():
		kind = events.KindDeleted
	case b.hash == "":
		kind = events.KindCreated
	}

	change := &store.EntityChange{
		EntityName:     e.entityName(),
		EntityID:       e.entityID(),
		Hash:           hash,
		ChangeID:       newID(),
		UTCDateChanged: c.now().UTC(),
	}

	if conn := c.conn(); conn != nil {
		if err := e.write(ctx, conn); err != nil {
			return err
		}
		if err := conn.RecordChange(ctx, change); err != nil {
			return fmt.Errorf("record change: %w", err)
		}
	}

	b.hash = hash
	c.emit(events.Event{
		Kind:       kind,
		EntityName: change.EntityName,
		EntityID:   change.EntityID,
		NoteID:     e.ownerNoteID(),
		Hash:       hash,
		ChangeID:   change.ChangeID,
		Time:       change.UTCDateChanged,
	})
	return nil
}
