package graph

import (
	"context"
	"maps"

	"github.com/lazypower/canopy/internal/events"
	"github.com/lazypower/canopy/internal/store"
)

type txState struct {
	conn    store.Conn
	pending []events.Event
}

// Transact runs fn as one all-or-nothing unit. Writes made by cache
// mutations inside fn go to a single store transaction and their events are
// held back until commit. When fn or the commit fails, the cache is rebuilt
// from its state at the start of the transaction and the held events are
// dropped; pointers obtained inside fn are stale after a rollback.
//
// A Transact nested inside another joins the outer one.
func (c *Cache) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.tx != nil {
		return fn(ctx)
	}

	snap := c.snapshot()
	tombstones := maps.Clone(c.tombstones)
	blobs := maps.Clone(c.blobs)

	c.tx = &txState{}
	var err error
	if c.store != nil {
		err = c.store.Transact(ctx, func(conn store.Conn) error {
			c.tx.conn = conn
			return fn(ctx)
		})
	} else {
		err = fn(ctx)
	}
	pending := c.tx.pending
	c.tx = nil

	if err != nil {
		c.restore(snap)
		c.tombstones = tombstones
		c.blobs = blobs
		c.logger.Warn("transaction rolled back",
			"error", err,
			"discarded_events", len(pending),
		)
		return err
	}

	for _, e := range pending {
		c.bus.Publish(e)
	}
	return nil
}

// snapshot captures the persisted form of every live entity.
func (c *Cache) snapshot() *store.Snapshot {
	snap := &store.Snapshot{
		Notes:      make([]store.NoteRow, 0, len(c.notes)),
		Branches:   make([]store.BranchRow, 0, len(c.branches)),
		Attributes: make([]store.AttributeRow, 0, len(c.attributes)),
	}
	// Per-note order keeps parent and owned attribute order across a restore.
	for _, n := range c.AllNotes() {
		snap.Notes = append(snap.Notes, *n.row())
		for _, b := range n.parentBranches {
			snap.Branches = append(snap.Branches, *b.row())
		}
		for _, a := range n.ownedAttributes {
			snap.Attributes = append(snap.Attributes, *a.row())
		}
	}
	return snap
}

// restore rebuilds every index from snap.
func (c *Cache) restore(snap *store.Snapshot) {
	c.Reset()
	c.populate(snap)
	c.metrics.SetCacheNotes(len(c.notes))
}
