package metrics

import "testing"

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("pipe-001")

	c.IncWriteAccepted(5)
	c.IncWriteBuffered(10)
	c.IncWriteBuffered(3)
	c.IncWriteRejected()
	c.IncDispatch(13)
	c.AddConsumed(13)
	c.IncSpill()
	c.IncDiskWrite(13)
	c.IncDiskRead()
	c.IncDiskError()

	snap := c.Snapshot()
	if snap.WritesAccepted != 1 {
		t.Errorf("WritesAccepted = %d, want 1", snap.WritesAccepted)
	}
	if snap.WritesBuffered != 2 {
		t.Errorf("WritesBuffered = %d, want 2", snap.WritesBuffered)
	}
	if snap.WritesRejected != 1 {
		t.Errorf("WritesRejected = %d, want 1", snap.WritesRejected)
	}
	if snap.BytesWritten != 18 {
		t.Errorf("BytesWritten = %d, want 18", snap.BytesWritten)
	}
	if snap.Dispatches != 1 || snap.BytesDelivered != 13 {
		t.Errorf("Dispatches = %d, BytesDelivered = %d, want 1, 13", snap.Dispatches, snap.BytesDelivered)
	}
	if snap.BytesConsumed != 13 {
		t.Errorf("BytesConsumed = %d, want 13", snap.BytesConsumed)
	}
	if snap.Spills != 1 || snap.DiskWrites != 1 || snap.DiskReads != 1 {
		t.Errorf("Spills = %d, DiskWrites = %d, DiskReads = %d, want 1, 1, 1",
			snap.Spills, snap.DiskWrites, snap.DiskReads)
	}
	if snap.BytesSpilled != 13 {
		t.Errorf("BytesSpilled = %d, want 13", snap.BytesSpilled)
	}
	if snap.DiskErrors != 1 {
		t.Errorf("DiskErrors = %d, want 1", snap.DiskErrors)
	}
	if snap.PipeID != "pipe-001" {
		t.Errorf("PipeID = %q, want %q", snap.PipeID, "pipe-001")
	}
}

func TestCollector_NilReceiver(t *testing.T) {
	var c *Collector
	c.IncWriteAccepted(1)
	c.IncWriteBuffered(1)
	c.IncWriteRejected()
	c.IncDispatch(1)
	c.AddConsumed(1)
	c.IncSpill()
	c.IncDiskWrite(1)
	c.IncDiskRead()
	c.IncDiskError()

	if snap := c.Snapshot(); snap != (Snapshot{}) {
		t.Errorf("nil collector Snapshot = %+v, want zero value", snap)
	}
}

func TestSnapshot_Immutable(t *testing.T) {
	c := NewCollector("pipe-002")
	c.IncDispatch(7)

	snap := c.Snapshot()
	c.IncDispatch(7)

	if snap.Dispatches != 1 {
		t.Errorf("Snapshot mutated after further increments: Dispatches = %d, want 1", snap.Dispatches)
	}
}
