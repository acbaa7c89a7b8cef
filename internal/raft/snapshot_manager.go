package raft

import (
	"fmt"
)

// snapshotManager captures the state machine and persists the result off
// the dispatch goroutine. At most one capture runs at a time.
type snapshotManager struct {
	ctx       *Context
	capturing bool
}

func (m *snapshotManager) isCapturing() bool { return m.capturing }

// shouldCompact reports whether the journal or the in-memory log has grown
// past its configured limit.
func (m *snapshotManager) shouldCompact() bool {
	c := m.ctx
	if c.log.LastApplied() <= c.persistedSnapshotIndex {
		return false
	}
	return c.journalSize() >= int64(c.cfg.SnapshotBatchCount) || m.dataThresholdExceeded()
}

func (m *snapshotManager) dataThresholdExceeded() bool {
	t := m.ctx.cfg.SnapshotDataThreshold
	return t > 0 && m.ctx.log.DataSize() > t
}

// capture takes a state machine snapshot at LastApplied and persists it in
// the background. installFor names the follower that needs it, 0 if none.
// It reports whether a capture was started.
func (m *snapshotManager) capture(replicatedToAllIndex int64, installFor uint64) bool {
	if m.capturing {
		return false
	}
	c := m.ctx
	index := c.log.LastApplied()
	term := c.log.EntryOrSnapshotTerm(index)
	data, err := c.sm.Snapshot()
	if err != nil {
		c.logger.Error("state machine snapshot failed", "index", index, "error", err)
		return false
	}

	snap := &Snapshot{LastIncludedIndex: index, LastIncludedTerm: term, Data: data}
	m.capturing = true
	c.logger.Info("capturing snapshot", "index", index, "term", term, "size", len(data), "installFor", installFor)
	c.execute(func() {
		err := c.storage.SaveSnapshot(snap)
		c.post(&CaptureSnapshotReply{
			Snapshot:             snap,
			Err:                  err,
			InstallFor:           installFor,
			ReplicatedToAllIndex: replicatedToAllIndex,
		})
	})
	return true
}

// persisted finishes a capture: it trims the in-memory log and compacts the
// journal. A capture for log compaction always trims to the snapshot; a
// capture for an install trims to the snapshot only when the log is over a
// limit and otherwise to replicatedToAllIndex.
func (m *snapshotManager) persisted(r *CaptureSnapshotReply) error {
	m.capturing = false
	if r.Err != nil {
		return fmt.Errorf("persist snapshot: %w", r.Err)
	}
	c := m.ctx
	snap := r.Snapshot

	overLimit := c.journalSize() >= int64(c.cfg.SnapshotBatchCount) || m.dataThresholdExceeded()
	switch {
	case overLimit || r.InstallFor == 0:
		c.log.SnapshotPreCommit(snap.LastIncludedIndex, snap.LastIncludedTerm)
	case r.ReplicatedToAllIndex >= 0 && c.log.IsPresent(r.ReplicatedToAllIndex):
		c.log.SnapshotPreCommit(r.ReplicatedToAllIndex, c.log.TermAt(r.ReplicatedToAllIndex))
	}

	if snap.LastIncludedIndex > c.persistedSnapshotIndex {
		if err := c.storage.Compact(snap.LastIncludedIndex); err != nil {
			return fmt.Errorf("compact journal: %w", err)
		}
		c.persistedSnapshotIndex = snap.LastIncludedIndex
	}
	c.logger.Info("snapshot persisted",
		"index", snap.LastIncludedIndex,
		"snapshotIndex", c.log.SnapshotIndex(),
		"logSize", c.log.Size())
	return nil
}
