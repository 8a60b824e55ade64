package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// Counter-style read-modify-write updates (the revenue aggregates) are the
// only transactional workload, so the retry budget and deadline are fixed
// rather than configurable.
const (
	txMaxAttempts = 5
	txDeadline    = 10 * time.Second
)

// TxFunc runs inside a Firestore transaction. The client may retry it on
// contention, so it must not carry side effects outside the transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction executes fn transactionally on the client. A deadline is
// applied unless the caller already carries a tighter one.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txDeadline)
		defer cancel()
	}

	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, tx)
	}, firestore.MaxAttempts(txMaxAttempts))
	return WrapError("transaction", err)
}
