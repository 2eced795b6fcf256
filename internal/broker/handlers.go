package broker

import (
	"go.uber.org/zap"

	"github.com/maxpert/amqp-go-client/protocol"
)

// handleMethod serves one method on an open channel and returns the events
// to write once its reply has gone out.
func (sess *session) handleMethod(channel uint16, ch *serverChannel, method protocol.Method) ([]Event, error) {
	b := sess.server.Broker
	ref := sess.ref(channel)

	switch m := method.(type) {
	case *protocol.ChannelOpenMethod:
		// A second open on an open channel is a connection error.
		return nil, b.OpenChannel(ref)

	case *protocol.ChannelCloseMethod:
		sess.log.Debug("Client closed channel",
			zap.Uint16("channel_id", channel),
			zap.Uint16("reply_code", m.ReplyCode))
		events := b.CloseChannel(ref)
		delete(sess.channels, channel)
		return events, sess.reply(channel, &protocol.ChannelCloseOKMethod{})

	case *protocol.ChannelFlowMethod:
		return nil, sess.reply(channel, &protocol.ChannelFlowOKMethod{Active: m.Active})

	case *protocol.ChannelFlowOKMethod, *protocol.BasicCancelOKMethod:
		return nil, nil

	case *protocol.ExchangeDeclareMethod:
		if err := b.DeclareExchange(m.Exchange, m.Type, m.Passive, m.Durable, m.AutoDelete, m.Internal, m.Arguments); err != nil {
			return nil, err
		}
		return nil, sess.replyUnlessNoWait(channel, m.NoWait, &protocol.ExchangeDeclareOKMethod{})

	case *protocol.ExchangeDeleteMethod:
		if err := b.DeleteExchange(m.Exchange, m.IfUnused); err != nil {
			return nil, err
		}
		return nil, sess.replyUnlessNoWait(channel, m.NoWait, &protocol.ExchangeDeleteOKMethod{})

	case *protocol.ExchangeBindMethod:
		if err := b.BindExchange(m.Destination, m.Source, m.RoutingKey, m.Arguments); err != nil {
			return nil, err
		}
		return nil, sess.replyUnlessNoWait(channel, m.NoWait, &protocol.ExchangeBindOKMethod{})

	case *protocol.ExchangeUnbindMethod:
		if err := b.UnbindExchange(m.Destination, m.Source, m.RoutingKey, m.Arguments); err != nil {
			return nil, err
		}
		return nil, sess.replyUnlessNoWait(channel, m.NoWait, &protocol.ExchangeUnbindOKMethod{})

	case *protocol.QueueDeclareMethod:
		info, err := b.DeclareQueue(ref, m.Queue, m.Passive, m.Durable, m.Exclusive, m.AutoDelete, m.Arguments)
		if err != nil {
			return nil, err
		}
		return nil, sess.replyUnlessNoWait(channel, m.NoWait, &protocol.QueueDeclareOKMethod{
			Queue:         info.Name,
			MessageCount:  uint32(info.Messages),
			ConsumerCount: uint32(info.Consumers),
		})

	case *protocol.QueueBindMethod:
		if err := b.BindQueue(ref, m.Queue, m.Exchange, m.RoutingKey, m.Arguments); err != nil {
			return nil, err
		}
		return nil, sess.replyUnlessNoWait(channel, m.NoWait, &protocol.QueueBindOKMethod{})

	case *protocol.QueueUnbindMethod:
		if err := b.UnbindQueue(ref, m.Queue, m.Exchange, m.RoutingKey, m.Arguments); err != nil {
			return nil, err
		}
		return nil, sess.reply(channel, &protocol.QueueUnbindOKMethod{})

	case *protocol.QueuePurgeMethod:
		count, err := b.PurgeQueue(ref, m.Queue)
		if err != nil {
			return nil, err
		}
		ok := &protocol.QueuePurgeOKMethod{}
		ok.MessageCount = uint32(count)
		return nil, sess.replyUnlessNoWait(channel, m.NoWait, ok)

	case *protocol.QueueDeleteMethod:
		count, events, err := b.DeleteQueue(ref, m.Queue, m.IfUnused, m.IfEmpty)
		if err != nil {
			return nil, err
		}
		ok := &protocol.QueueDeleteOKMethod{}
		ok.MessageCount = uint32(count)
		return events, sess.replyUnlessNoWait(channel, m.NoWait, ok)

	case *protocol.BasicQosMethod:
		events := b.Qos(ref, m.PrefetchCount)
		return events, sess.reply(channel, &protocol.BasicQosOKMethod{})

	case *protocol.BasicConsumeMethod:
		tag, events, err := b.Consume(ref, m.Queue, m.ConsumerTag, m.NoAck, m.Exclusive)
		if err != nil {
			return nil, err
		}
		ok := &protocol.BasicConsumeOKMethod{}
		ok.ConsumerTag = tag
		return events, sess.replyUnlessNoWait(channel, m.NoWait, ok)

	case *protocol.BasicCancelMethod:
		b.Cancel(ref, m.ConsumerTag)
		ok := &protocol.BasicCancelOKMethod{}
		ok.ConsumerTag = m.ConsumerTag
		return nil, sess.replyUnlessNoWait(channel, m.NoWait, ok)

	case *protocol.BasicPublishMethod:
		ch.publish = &publishAssembly{method: m}
		return nil, nil

	case *protocol.BasicGetMethod:
		d, remaining, err := b.Get(ref, m.Queue, m.NoAck)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, sess.reply(channel, &protocol.BasicGetEmptyMethod{})
		}
		return nil, sess.replyContent(channel, &protocol.BasicGetOKMethod{
			DeliveryTag:  d.DeliveryTag,
			Redelivered:  d.Redelivered,
			Exchange:     d.Message.Exchange,
			RoutingKey:   d.Message.RoutingKey,
			MessageCount: uint32(remaining),
		}, d.Message)

	case *protocol.BasicAckMethod:
		return b.Ack(ref, m.DeliveryTag, m.Multiple)

	case *protocol.BasicRejectMethod:
		return b.Reject(ref, m.DeliveryTag, m.Requeue)

	case *protocol.TxSelectMethod:
		b.TxSelect(ref)
		return nil, sess.reply(channel, &protocol.TxSelectOKMethod{})

	case *protocol.TxCommitMethod:
		events, err := b.TxCommit(ref)
		if err != nil {
			// Held work that did apply still produces its events.
			sess.server.emit(events)
			return nil, err
		}
		return events, sess.reply(channel, &protocol.TxCommitOKMethod{})

	case *protocol.TxRollbackMethod:
		if err := b.TxRollback(ref); err != nil {
			return nil, err
		}
		return nil, sess.reply(channel, &protocol.TxRollbackOKMethod{})

	default:
		key, _ := protocol.KeyOf(method)
		sess.log.Warn("Unhandled method", zap.Uint16("channel_id", channel), zap.String("method", key.String()))
		return nil, notImplemented(key)
	}
}

func (sess *session) replyUnlessNoWait(channel uint16, noWait bool, m protocol.Method) error {
	if noWait {
		return nil
	}
	return sess.reply(channel, m)
}
