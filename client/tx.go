package client

import (
	"context"

	"github.com/maxpert/amqp-go-client/protocol"
)

// TxSelect puts the channel in transactional mode. Publishes and acks are
// held by the broker until TxCommit.
func (c *Channel) TxSelect(ctx context.Context) (*Response, error) {
	return c.call(ctx, &protocol.TxSelectMethod{})
}

// TxCommit commits the current transaction.
func (c *Channel) TxCommit(ctx context.Context) (*Response, error) {
	return c.call(ctx, &protocol.TxCommitMethod{})
}

// TxRollback abandons the current transaction.
func (c *Channel) TxRollback(ctx context.Context) (*Response, error) {
	return c.call(ctx, &protocol.TxRollbackMethod{})
}
