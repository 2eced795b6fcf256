package broker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
	"github.com/maxpert/amqp-go-client/protocol"
)

// Exchange kinds
const (
	KindDirect  = "direct"
	KindFanout  = "fanout"
	KindTopic   = "topic"
	KindHeaders = "headers"
)

// Metrics receives broker state changes. *metrics.Collector satisfies it.
type Metrics interface {
	UpdateBrokerTotals(queues, exchanges int)
	RecordRouted(matched bool)
}

type noopMetrics struct{}

func (noopMetrics) UpdateBrokerTotals(int, int) {}
func (noopMetrics) RecordRouted(bool)           {}

// ChannelRef identifies a channel of one client session.
type ChannelRef struct {
	Session uint64
	Channel uint16
}

// Message is a published message as stored in a queue.
type Message struct {
	Exchange    string
	RoutingKey  string
	Header      *protocol.ContentHeader
	Body        []byte
	Redelivered bool
}

func (m *Message) persistent() bool {
	return m.Header != nil && m.Header.DeliveryMode == 2
}

// Exchange routes messages to queues and other exchanges.
type Exchange struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	Arguments  protocol.Table
}

// Binding connects a source exchange to a queue or, when ToExchange is
// set, to another exchange.
type Binding struct {
	Source      string
	Destination string
	ToExchange  bool
	RoutingKey  string
	Arguments   protocol.Table
}

// Queue holds messages until a consumer or basic.get takes them.
type Queue struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	Arguments  protocol.Table

	owner     uint64
	messages  []*Message
	consumers []*consumer
	next      int
	// consumed is set once the queue had a consumer, for auto-delete
	consumed bool
}

// QueueInfo is the state reported by queue.declare-ok.
type QueueInfo struct {
	Name      string
	Messages  int
	Consumers int
}

type consumer struct {
	tag       string
	queue     string
	ref       ChannelRef
	noAck     bool
	exclusive bool
}

type unacked struct {
	queue   string
	message *Message
}

type channelState struct {
	prefetch  uint16
	nextTag   uint64
	unacked   map[uint64]*unacked
	consumers map[string]*consumer
	tx        bool
	txOps     []func() ([]Event, error)
}

// Delivery is a message handed to a consumer or returned by Get.
type Delivery struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Message     *Message
}

// Event is pushed to a channel without a request from it.
type Event struct {
	Target ChannelRef
	// Deliver is set for basic.deliver
	Deliver *Delivery
	// Return is set when a mandatory message could not be routed
	Return *Message
	// Cancel names a consumer cancelled by the broker
	Cancel string
}

// Broker holds exchanges, queues, bindings and per-channel consumer state.
// All state is guarded by one mutex; methods return the events the caller
// must write to other channels.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]*Exchange
	queues    map[string]*Queue
	bindings  []*Binding
	channels  map[ChannelRef]*channelState

	log     *zap.Logger
	metrics Metrics
}

// Option configures a Broker
type Option func(*Broker)

// WithLogger sets the zap logger
func WithLogger(log *zap.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(b *Broker) {
		if m != nil {
			b.metrics = m
		}
	}
}

// New creates a broker with the default exchange and the amq.* exchanges.
func New(opts ...Option) *Broker {
	b := &Broker{
		exchanges: make(map[string]*Exchange),
		queues:    make(map[string]*Queue),
		channels:  make(map[ChannelRef]*channelState),
		log:       zap.NewNop(),
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(b)
	}

	b.exchanges[""] = &Exchange{Name: "", Kind: KindDirect, Durable: true}
	for _, kind := range []string{KindDirect, KindFanout, KindTopic, KindHeaders} {
		name := "amq." + kind
		b.exchanges[name] = &Exchange{Name: name, Kind: kind, Durable: true}
	}
	b.updateTotalsLocked()
	return b
}

func builtinExchange(name string) bool {
	return name == "" || strings.HasPrefix(name, "amq.")
}

func validKind(kind string) bool {
	switch kind {
	case KindDirect, KindFanout, KindTopic, KindHeaders:
		return true
	}
	return false
}

func (b *Broker) updateTotalsLocked() {
	b.metrics.UpdateBrokerTotals(len(b.queues), len(b.exchanges))
}

// OpenChannel creates the consumer state of a channel.
func (b *Broker) OpenChannel(ref ChannelRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[ref]; ok {
		return amqperrors.NewConnectionError(amqperrors.ChannelErrorCode,
			fmt.Sprintf("CHANNEL_ERROR - second 'channel.open' seen on channel %d", ref.Channel), 0, 0)
	}
	b.channels[ref] = newChannelState()
	return nil
}

func newChannelState() *channelState {
	return &channelState{
		unacked:   make(map[uint64]*unacked),
		consumers: make(map[string]*consumer),
	}
}

// channelLocked returns the state of ref, creating it if the channel was
// never opened through OpenChannel.
func (b *Broker) channelLocked(ref ChannelRef) *channelState {
	ch, ok := b.channels[ref]
	if !ok {
		ch = newChannelState()
		b.channels[ref] = ch
	}
	return ch
}

// CloseChannel cancels the channel's consumers and requeues its
// unacknowledged messages.
func (b *Broker) CloseChannel(ref ChannelRef) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeChannelLocked(ref)
}

func (b *Broker) closeChannelLocked(ref ChannelRef) []Event {
	ch, ok := b.channels[ref]
	if !ok {
		return nil
	}
	delete(b.channels, ref)

	touched := make(map[string]bool)
	for tag, c := range ch.consumers {
		b.removeConsumerLocked(c)
		touched[c.queue] = true
		delete(ch.consumers, tag)
	}

	tags := make([]uint64, 0, len(ch.unacked))
	for tag := range ch.unacked {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] > tags[j] })
	for _, tag := range tags {
		u := ch.unacked[tag]
		if q, ok := b.queues[u.queue]; ok {
			u.message.Redelivered = true
			q.messages = append([]*Message{u.message}, q.messages...)
			touched[q.Name] = true
		}
	}

	var events []Event
	for name := range touched {
		if q, ok := b.queues[name]; ok {
			events = append(events, b.dispatchLocked(q)...)
		}
	}
	return events
}

// CloseSession closes every channel of session and deletes the queues it
// declared exclusive.
func (b *Broker) CloseSession(session uint64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var events []Event
	for ref := range b.channels {
		if ref.Session == session {
			events = append(events, b.closeChannelLocked(ref)...)
		}
	}
	for name, q := range b.queues {
		if q.Exclusive && q.owner == session {
			b.deleteQueueLocked(q)
			b.log.Debug("Exclusive queue deleted with its session", zap.String("queue", name))
		}
	}
	b.updateTotalsLocked()
	return events
}

// DeclareExchange creates an exchange or checks an existing one.
func (b *Broker) DeclareExchange(name, kind string, passive, durable, autoDelete, internal bool, args protocol.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ex, exists := b.exchanges[name]
	if passive {
		if !exists {
			return amqperrors.NewNotFound("exchange", name)
		}
		return nil
	}
	if name == "" {
		return amqperrors.NewAccessRefused("operation not permitted on the default exchange")
	}
	if exists {
		switch {
		case ex.Kind != kind:
			return inequivalent("type", "exchange", name, kind, ex.Kind)
		case ex.Durable != durable:
			return inequivalent("durable", "exchange", name, durable, ex.Durable)
		case ex.AutoDelete != autoDelete:
			return inequivalent("auto_delete", "exchange", name, autoDelete, ex.AutoDelete)
		case ex.Internal != internal:
			return inequivalent("internal", "exchange", name, internal, ex.Internal)
		}
		return nil
	}
	if !validKind(kind) {
		return amqperrors.NewCommandInvalid(fmt.Sprintf("invalid exchange type '%s'", kind))
	}
	if builtinExchange(name) {
		return amqperrors.NewAccessRefused(fmt.Sprintf("exchange name '%s' contains reserved prefix 'amq.*'", name))
	}

	b.exchanges[name] = &Exchange{
		Name:       name,
		Kind:       kind,
		Durable:    durable,
		AutoDelete: autoDelete,
		Internal:   internal,
		Arguments:  args,
	}
	b.updateTotalsLocked()
	b.log.Debug("Exchange declared", zap.String("exchange", name), zap.String("type", kind), zap.Bool("durable", durable))
	return nil
}

func inequivalent(arg, kind, name string, received, current interface{}) error {
	return amqperrors.NewPreconditionFailed(fmt.Sprintf(
		"inequivalent arg '%s' for %s '%s' in vhost '/': received '%v' but current is '%v'",
		arg, kind, name, received, current))
}

// DeleteExchange removes an exchange and every binding that mentions it.
// Deleting a missing exchange succeeds.
func (b *Broker) DeleteExchange(name string, ifUnused bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if builtinExchange(name) {
		return amqperrors.NewAccessRefused(fmt.Sprintf("operation not permitted on exchange '%s'", name))
	}
	if _, ok := b.exchanges[name]; !ok {
		return nil
	}
	if ifUnused && b.hasBindingsLocked(name) {
		return amqperrors.NewPreconditionFailed(fmt.Sprintf("exchange '%s' in use", name))
	}
	b.deleteExchangeLocked(name)
	b.updateTotalsLocked()
	return nil
}

func (b *Broker) deleteExchangeLocked(name string) {
	delete(b.exchanges, name)
	kept := b.bindings[:0]
	for _, bd := range b.bindings {
		if bd.Source == name || (bd.ToExchange && bd.Destination == name) {
			continue
		}
		kept = append(kept, bd)
	}
	b.bindings = kept
}

func (b *Broker) hasBindingsLocked(source string) bool {
	for _, bd := range b.bindings {
		if bd.Source == source {
			return true
		}
	}
	return false
}

// DeclareQueue creates a queue or checks an existing one. An empty name
// creates a server-named queue.
func (b *Broker) DeclareQueue(ref ChannelRef, name string, passive, durable, exclusive, autoDelete bool, args protocol.Table) (QueueInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, exists := b.queues[name]
	if exists {
		if err := b.checkOwnerLocked(ref, q); err != nil {
			return QueueInfo{}, err
		}
		if !passive {
			switch {
			case q.Durable != durable:
				return QueueInfo{}, inequivalent("durable", "queue", name, durable, q.Durable)
			case q.Exclusive != exclusive:
				return QueueInfo{}, inequivalent("exclusive", "queue", name, exclusive, q.Exclusive)
			case q.AutoDelete != autoDelete:
				return QueueInfo{}, inequivalent("auto_delete", "queue", name, autoDelete, q.AutoDelete)
			}
		}
		return q.info(), nil
	}
	if passive {
		return QueueInfo{}, amqperrors.NewNotFound("queue", name)
	}
	if name == "" {
		name = "amq.gen-" + uuid.NewString()
	} else if strings.HasPrefix(name, "amq.") {
		return QueueInfo{}, amqperrors.NewAccessRefused(fmt.Sprintf("queue name '%s' contains reserved prefix 'amq.*'", name))
	}

	q = &Queue{
		Name:       name,
		Durable:    durable,
		Exclusive:  exclusive,
		AutoDelete: autoDelete,
		Arguments:  args,
	}
	if exclusive {
		q.owner = ref.Session
	}
	b.queues[name] = q
	b.updateTotalsLocked()
	b.log.Debug("Queue declared", zap.String("queue", name), zap.Bool("durable", durable), zap.Bool("exclusive", exclusive))
	return q.info(), nil
}

func (q *Queue) info() QueueInfo {
	return QueueInfo{Name: q.Name, Messages: len(q.messages), Consumers: len(q.consumers)}
}

func (b *Broker) checkOwnerLocked(ref ChannelRef, q *Queue) error {
	if q.Exclusive && q.owner != ref.Session {
		return amqperrors.NewResourceLocked(fmt.Sprintf(
			"cannot obtain exclusive access to locked queue '%s' in vhost '/'", q.Name))
	}
	return nil
}

func (b *Broker) queueLocked(ref ChannelRef, name string) (*Queue, error) {
	q, ok := b.queues[name]
	if !ok {
		return nil, amqperrors.NewNotFound("queue", name)
	}
	if err := b.checkOwnerLocked(ref, q); err != nil {
		return nil, err
	}
	return q, nil
}

// DeleteQueue removes a queue, cancelling its consumers, and returns how
// many messages it held. Deleting a missing queue succeeds with 0.
func (b *Broker) DeleteQueue(ref ChannelRef, name string, ifUnused, ifEmpty bool) (int, []Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return 0, nil, nil
	}
	if err := b.checkOwnerLocked(ref, q); err != nil {
		return 0, nil, err
	}
	if ifUnused && len(q.consumers) > 0 {
		return 0, nil, amqperrors.NewPreconditionFailed(fmt.Sprintf("queue '%s' in use", name))
	}
	if ifEmpty && len(q.messages) > 0 {
		return 0, nil, amqperrors.NewPreconditionFailed(fmt.Sprintf("queue '%s' not empty", name))
	}

	count := len(q.messages)
	events := b.deleteQueueLocked(q)
	b.updateTotalsLocked()
	return count, events, nil
}

func (b *Broker) deleteQueueLocked(q *Queue) []Event {
	var events []Event
	for _, c := range q.consumers {
		if ch, ok := b.channels[c.ref]; ok {
			delete(ch.consumers, c.tag)
		}
		events = append(events, Event{Target: c.ref, Cancel: c.tag})
	}
	q.consumers = nil
	delete(b.queues, q.Name)

	kept := b.bindings[:0]
	for _, bd := range b.bindings {
		if !bd.ToExchange && bd.Destination == q.Name {
			continue
		}
		kept = append(kept, bd)
	}
	b.bindings = kept
	return events
}

// PurgeQueue drops the ready messages of a queue.
func (b *Broker) PurgeQueue(ref ChannelRef, name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queueLocked(ref, name)
	if err != nil {
		return 0, err
	}
	count := len(q.messages)
	q.messages = nil
	return count, nil
}

// BindQueue binds queue to exchange. Repeating a binding is a no-op.
func (b *Broker) BindQueue(ref ChannelRef, queue, exchange, key string, args protocol.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.queueLocked(ref, queue); err != nil {
		return err
	}
	if err := b.bindableLocked(exchange); err != nil {
		return err
	}
	b.addBindingLocked(&Binding{Source: exchange, Destination: queue, RoutingKey: key, Arguments: args})
	return nil
}

// UnbindQueue removes a queue binding. Removing a missing binding succeeds.
func (b *Broker) UnbindQueue(ref ChannelRef, queue, exchange, key string, args protocol.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.queueLocked(ref, queue); err != nil {
		return err
	}
	if err := b.bindableLocked(exchange); err != nil {
		return err
	}
	b.removeBindingLocked(&Binding{Source: exchange, Destination: queue, RoutingKey: key, Arguments: args})
	return nil
}

// BindExchange routes messages from source into destination.
func (b *Broker) BindExchange(destination, source, key string, args protocol.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range []string{destination, source} {
		if err := b.bindableLocked(name); err != nil {
			return err
		}
	}
	b.addBindingLocked(&Binding{Source: source, Destination: destination, ToExchange: true, RoutingKey: key, Arguments: args})
	return nil
}

// UnbindExchange removes an exchange-to-exchange binding.
func (b *Broker) UnbindExchange(destination, source, key string, args protocol.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range []string{destination, source} {
		if err := b.bindableLocked(name); err != nil {
			return err
		}
	}
	b.removeBindingLocked(&Binding{Source: source, Destination: destination, ToExchange: true, RoutingKey: key, Arguments: args})
	return nil
}

func (b *Broker) bindableLocked(exchange string) error {
	if exchange == "" {
		return amqperrors.NewAccessRefused("operation not permitted on the default exchange")
	}
	if _, ok := b.exchanges[exchange]; !ok {
		return amqperrors.NewNotFound("exchange", exchange)
	}
	return nil
}

func sameBinding(a, b *Binding) bool {
	return a.Source == b.Source &&
		a.Destination == b.Destination &&
		a.ToExchange == b.ToExchange &&
		a.RoutingKey == b.RoutingKey &&
		tablesEqual(a.Arguments, b.Arguments)
}

func (b *Broker) addBindingLocked(binding *Binding) {
	for _, bd := range b.bindings {
		if sameBinding(bd, binding) {
			return
		}
	}
	b.bindings = append(b.bindings, binding)
}

func (b *Broker) removeBindingLocked(binding *Binding) {
	for i, bd := range b.bindings {
		if !sameBinding(bd, binding) {
			continue
		}
		b.bindings = append(b.bindings[:i], b.bindings[i+1:]...)

		if ex, ok := b.exchanges[binding.Source]; ok && ex.AutoDelete && !b.hasBindingsLocked(ex.Name) {
			b.deleteExchangeLocked(ex.Name)
			b.updateTotalsLocked()
			b.log.Debug("Auto-delete exchange removed", zap.String("exchange", ex.Name))
		}
		return
	}
}

// Qos sets the prefetch window of a channel. Global prefetch is treated
// as per-channel.
func (b *Broker) Qos(ref ChannelRef, prefetchCount uint16) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.channelLocked(ref)
	ch.prefetch = prefetchCount
	return b.dispatchChannelLocked(ch)
}

// Consume registers a consumer and returns its tag, generating one when
// tag is empty.
func (b *Broker) Consume(ref ChannelRef, queue, tag string, noAck, exclusive bool) (string, []Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queueLocked(ref, queue)
	if err != nil {
		return "", nil, err
	}
	ch := b.channelLocked(ref)
	if tag == "" {
		tag = "amq.ctag-" + uuid.NewString()
	}
	if _, dup := ch.consumers[tag]; dup {
		return "", nil, amqperrors.NewChannelError(amqperrors.NotAllowed,
			fmt.Sprintf("NOT_ALLOWED - attempt to reuse consumer tag '%s'", tag), 0, 0, 0)
	}
	for _, c := range q.consumers {
		if c.exclusive || exclusive {
			return "", nil, amqperrors.NewAccessRefused(fmt.Sprintf("queue '%s' in exclusive use", queue))
		}
	}

	c := &consumer{tag: tag, queue: queue, ref: ref, noAck: noAck, exclusive: exclusive}
	ch.consumers[tag] = c
	q.consumers = append(q.consumers, c)
	q.consumed = true
	return tag, b.dispatchLocked(q), nil
}

// Cancel stops a consumer. Unknown tags are ignored.
func (b *Broker) Cancel(ref ChannelRef, tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[ref]
	if !ok {
		return
	}
	c, ok := ch.consumers[tag]
	if !ok {
		return
	}
	delete(ch.consumers, tag)
	b.removeConsumerLocked(c)
}

func (b *Broker) removeConsumerLocked(c *consumer) {
	q, ok := b.queues[c.queue]
	if !ok {
		return
	}
	for i, existing := range q.consumers {
		if existing == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
	if q.AutoDelete && q.consumed && len(q.consumers) == 0 {
		b.deleteQueueLocked(q)
		b.updateTotalsLocked()
		b.log.Debug("Auto-delete queue removed", zap.String("queue", q.Name))
	}
}

// Publish routes msg from exchange. Inside a transaction the publish is
// held until Commit.
func (b *Broker) Publish(ref ChannelRef, exchange, key string, mandatory bool, msg *Message) ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ex, ok := b.exchanges[exchange]
	if !ok {
		return nil, amqperrors.NewNotFound("exchange", exchange)
	}
	if ex.Internal {
		return nil, amqperrors.NewAccessRefused(fmt.Sprintf("cannot publish to internal exchange '%s'", exchange))
	}
	msg.Exchange, msg.RoutingKey = exchange, key

	ch := b.channelLocked(ref)
	if ch.tx {
		ch.txOps = append(ch.txOps, func() ([]Event, error) {
			return b.publishLocked(ref, ex, key, mandatory, msg), nil
		})
		return nil, nil
	}
	return b.publishLocked(ref, ex, key, mandatory, msg), nil
}

func (b *Broker) publishLocked(ref ChannelRef, ex *Exchange, key string, mandatory bool, msg *Message) []Event {
	var headers protocol.Table
	if msg.Header != nil {
		headers = msg.Header.Headers
	}
	targets := b.routeLocked(ex, key, headers, map[string]bool{})
	b.metrics.RecordRouted(len(targets) > 0)

	if len(targets) == 0 {
		if mandatory {
			return []Event{{Target: ref, Return: msg}}
		}
		return nil
	}

	var events []Event
	for _, name := range targets {
		q := b.queues[name]
		copied := *msg
		q.messages = append(q.messages, &copied)
		events = append(events, b.dispatchLocked(q)...)
	}
	return events
}

// Get takes one message from queue. A nil delivery means the queue was
// empty. The count is the number of messages left.
func (b *Broker) Get(ref ChannelRef, queue string, noAck bool) (*Delivery, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queueLocked(ref, queue)
	if err != nil {
		return nil, 0, err
	}
	if len(q.messages) == 0 {
		return nil, 0, nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]

	ch := b.channelLocked(ref)
	ch.nextTag++
	if !noAck {
		ch.unacked[ch.nextTag] = &unacked{queue: q.Name, message: msg}
	}
	return &Delivery{DeliveryTag: ch.nextTag, Redelivered: msg.Redelivered, Message: msg}, len(q.messages), nil
}

// Ack acknowledges deliveries on a channel. Tag 0 with multiple set
// acknowledges everything outstanding.
func (b *Broker) Ack(ref ChannelRef, tag uint64, multiple bool) ([]Event, error) {
	return b.settle(ref, tag, multiple, func(*unacked) {})
}

// Reject discards a delivery or puts it back at the head of its queue.
func (b *Broker) Reject(ref ChannelRef, tag uint64, requeue bool) ([]Event, error) {
	return b.settle(ref, tag, false, func(u *unacked) {
		if !requeue {
			return
		}
		if q, ok := b.queues[u.queue]; ok {
			u.message.Redelivered = true
			q.messages = append([]*Message{u.message}, q.messages...)
		}
	})
}

func (b *Broker) settle(ref ChannelRef, tag uint64, multiple bool, each func(*unacked)) ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.channelLocked(ref)
	op := func() ([]Event, error) {
		settled, err := ch.take(tag, multiple)
		if err != nil {
			return nil, err
		}
		touched := make(map[string]bool)
		for _, u := range settled {
			each(u)
			touched[u.queue] = true
		}
		events := b.dispatchChannelLocked(ch)
		for name := range touched {
			if q, ok := b.queues[name]; ok {
				events = append(events, b.dispatchLocked(q)...)
			}
		}
		return events, nil
	}

	if ch.tx {
		if _, ok := ch.unacked[tag]; !ok && !multiple {
			return nil, unknownTag(tag)
		}
		ch.txOps = append(ch.txOps, op)
		return nil, nil
	}
	return op()
}

func unknownTag(tag uint64) error {
	return amqperrors.NewPreconditionFailed(fmt.Sprintf("unknown delivery tag %d", tag))
}

// take removes and returns the deliveries a settle covers, in tag order.
func (ch *channelState) take(tag uint64, multiple bool) ([]*unacked, error) {
	if !multiple {
		u, ok := ch.unacked[tag]
		if !ok {
			return nil, unknownTag(tag)
		}
		delete(ch.unacked, tag)
		return []*unacked{u}, nil
	}

	var tags []uint64
	for t := range ch.unacked {
		if tag == 0 || t <= tag {
			tags = append(tags, t)
		}
	}
	if tag != 0 && len(tags) == 0 {
		return nil, unknownTag(tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] > tags[j] })
	settled := make([]*unacked, 0, len(tags))
	for _, t := range tags {
		settled = append(settled, ch.unacked[t])
		delete(ch.unacked, t)
	}
	return settled, nil
}

// TxSelect makes the channel transactional.
func (b *Broker) TxSelect(ref ChannelRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channelLocked(ref).tx = true
}

// TxCommit applies the publishes and acknowledgements held since the
// last commit or rollback.
func (b *Broker) TxCommit(ref ChannelRef) ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.channelLocked(ref)
	if !ch.tx {
		return nil, notTransactional()
	}
	ops := ch.txOps
	ch.txOps = nil

	var events []Event
	for _, op := range ops {
		evs, err := op()
		if err != nil {
			return events, err
		}
		events = append(events, evs...)
	}
	return events, nil
}

// TxRollback discards the held publishes and acknowledgements.
func (b *Broker) TxRollback(ref ChannelRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.channelLocked(ref)
	if !ch.tx {
		return notTransactional()
	}
	ch.txOps = nil
	return nil
}

func notTransactional() error {
	return amqperrors.NewPreconditionFailed("channel is not transactional")
}

// dispatchLocked hands ready messages of q to consumers with prefetch
// room, round robin.
func (b *Broker) dispatchLocked(q *Queue) []Event {
	var events []Event
	for len(q.messages) > 0 && len(q.consumers) > 0 {
		c, ch := b.nextConsumerLocked(q)
		if c == nil {
			break
		}
		msg := q.messages[0]
		q.messages = q.messages[1:]

		ch.nextTag++
		if !c.noAck {
			ch.unacked[ch.nextTag] = &unacked{queue: q.Name, message: msg}
		}
		events = append(events, Event{
			Target:  c.ref,
			Deliver: &Delivery{ConsumerTag: c.tag, DeliveryTag: ch.nextTag, Redelivered: msg.Redelivered, Message: msg},
		})
	}
	return events
}

func (b *Broker) nextConsumerLocked(q *Queue) (*consumer, *channelState) {
	for i := 0; i < len(q.consumers); i++ {
		idx := (q.next + i) % len(q.consumers)
		c := q.consumers[idx]
		ch, ok := b.channels[c.ref]
		if !ok {
			continue
		}
		if !c.noAck && ch.prefetch > 0 && len(ch.unacked) >= int(ch.prefetch) {
			continue
		}
		q.next = idx + 1
		return c, ch
	}
	return nil, nil
}

func (b *Broker) dispatchChannelLocked(ch *channelState) []Event {
	var events []Event
	seen := make(map[string]bool)
	for _, c := range ch.consumers {
		if seen[c.queue] {
			continue
		}
		seen[c.queue] = true
		if q, ok := b.queues[c.queue]; ok {
			events = append(events, b.dispatchLocked(q)...)
		}
	}
	return events
}

// QueueInfo reports the state of a queue.
func (b *Broker) QueueInfo(name string) (QueueInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return QueueInfo{}, false
	}
	return q.info(), true
}

// Exchange returns a copy of the named exchange.
func (b *Broker) Exchange(name string) (Exchange, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[name]
	if !ok {
		return Exchange{}, false
	}
	return *ex, true
}

// Bindings returns a copy of every binding.
func (b *Broker) Bindings() []Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Binding, len(b.bindings))
	for i, bd := range b.bindings {
		out[i] = *bd
	}
	return out
}

// Stats returns the number of queues and exchanges.
func (b *Broker) Stats() (queues, exchanges int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues), len(b.exchanges)
}
