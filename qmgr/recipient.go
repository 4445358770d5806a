package qmgr

// Recipient is one (address, envelope offset) record belonging to a
// message's recipient list. Immutable once created.
type Recipient struct {
	// Address is the envelope recipient address.
	Address string
	// Offset is this recipient's byte offset in the queue file, used by
	// the bounce/defer collaborator to re-read the original record.
	Offset int64
}
