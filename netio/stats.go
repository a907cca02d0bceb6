package netio

// QueueStats is a point-in-time snapshot of one handler's outbound queue.
// It is a pure value with no identity; callers aggregate snapshots by
// field-wise addition.
type QueueStats struct {
	Count uint64 // messages awaiting write.
	Bytes uint64 // total payload bytes across queued messages.
}

// Add returns the field-wise sum of s and o.
func (s QueueStats) Add(o QueueStats) QueueStats {
	return QueueStats{
		Count: s.Count + o.Count,
		Bytes: s.Bytes + o.Bytes,
	}
}
