package errors

// WalReplayError indicates a WAL entry could not be re-applied during
// recovery. The store must refuse to continue serving writes until the
// operator resolves the underlying cause.
type WalReplayError struct {
	*baseError
	txID uint64
}

// NewWalReplayError creates a WalReplayError for the given transaction id.
func NewWalReplayError(err error, txID uint64, msg string) *WalReplayError {
	return &WalReplayError{
		baseError: NewBaseError(err, ErrorCodeWalReplayFailure, msg),
		txID:      txID,
	}
}

// WithDetail adds contextual information while preserving the WalReplayError type.
func (we *WalReplayError) WithDetail(key string, value any) *WalReplayError {
	we.baseError.WithDetail(key, value)
	return we
}

// TxID returns the id of the transaction whose replay failed.
func (we *WalReplayError) TxID() uint64 { return we.txID }
