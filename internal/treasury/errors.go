package treasury

import "errors"

var (
	// ErrNoActor means the operation needs a connected signing identity.
	ErrNoActor = errors.New("no wallet connected")
	// ErrNoTreasurySelected means no current treasury has been set.
	ErrNoTreasurySelected = errors.New("no treasury selected")
	// ErrArityMismatch means a batch call's input arrays differ in length.
	ErrArityMismatch = errors.New("batch arrays must have the same length")
	// ErrProposalIDUnknown means the proposal count read back zero after a
	// confirmed submission, so no id can be inferred from it.
	ErrProposalIDUnknown = errors.New("proposal id could not be inferred")
)
