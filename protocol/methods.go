package protocol

// Class IDs
const (
	ClassConnection = 10
	ClassChannel    = 20
	ClassExchange   = 40
	ClassQueue      = 50
	ClassBasic      = 60
	ClassTx         = 90
)

// Method IDs for connection class
const (
	ConnectionStart    = 10
	ConnectionStartOK  = 11
	ConnectionSecure   = 20
	ConnectionSecureOK = 21
	ConnectionTune     = 30
	ConnectionTuneOK   = 31
	ConnectionOpen     = 40
	ConnectionOpenOK   = 41
	ConnectionClose    = 50
	ConnectionCloseOK  = 51
)

// Method IDs for channel class
const (
	ChannelOpen    = 10
	ChannelOpenOK  = 11
	ChannelFlow    = 20
	ChannelFlowOK  = 21
	ChannelClose   = 40
	ChannelCloseOK = 41
)

// Method IDs for exchange class
const (
	ExchangeDeclare   = 10 // 40.10
	ExchangeDeclareOK = 11 // 40.11
	ExchangeDelete    = 20 // 40.20
	ExchangeDeleteOK  = 21 // 40.21
	ExchangeBind      = 30 // 40.30
	ExchangeBindOK    = 31 // 40.31
	ExchangeUnbind    = 40 // 40.40
	ExchangeUnbindOK  = 51 // 40.51
)

// Method IDs for queue class
const (
	QueueDeclare   = 10 // 50.10
	QueueDeclareOK = 11 // 50.11
	QueueBind      = 20 // 50.20
	QueueBindOK    = 21 // 50.21
	QueuePurge     = 30 // 50.30
	QueuePurgeOK   = 31 // 50.31
	QueueDelete    = 40 // 50.40
	QueueDeleteOK  = 41 // 50.41
	QueueUnbind    = 50 // 50.50
	QueueUnbindOK  = 51 // 50.51
)

// Method IDs for basic class
const (
	BasicQos       = 10  // 60.10
	BasicQosOK     = 11  // 60.11
	BasicConsume   = 20  // 60.20
	BasicConsumeOK = 21  // 60.21
	BasicCancel    = 30  // 60.30
	BasicCancelOK  = 31  // 60.31
	BasicPublish   = 40  // 60.40
	BasicReturn    = 50  // 60.50
	BasicDeliver   = 60  // 60.60
	BasicGet       = 70  // 60.70
	BasicGetOK     = 71  // 60.71
	BasicGetEmpty  = 72  // 60.72
	BasicAck       = 80  // 60.80
	BasicReject    = 90  // 60.90
	BasicRecover   = 110 // 60.110
	BasicNack      = 120 // 60.120
)

// Method IDs for tx class
const (
	TxSelect     = 10 // 90.10
	TxSelectOK   = 11 // 90.11
	TxCommit     = 20 // 90.20
	TxCommitOK   = 21 // 90.21
	TxRollback   = 30 // 90.30
	TxRollbackOK = 31 // 90.31
)

// emptyMethod is embedded by methods that carry no arguments.
type emptyMethod struct{}

func (emptyMethod) Serialize() ([]byte, error) { return []byte{}, nil }

func (emptyMethod) Deserialize([]byte) error { return nil }

// closeFields is shared by connection.close and channel.close.
type closeFields struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (m *closeFields) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.ReplyCode)
	if err := w.shortstr(m.ReplyText); err != nil {
		return nil, err
	}
	w.short(m.ClassID)
	w.short(m.MethodID)
	return w.bytes(), nil
}

func (m *closeFields) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.ReplyCode, err = r.short("reply code"); err != nil {
		return err
	}
	if m.ReplyText, err = r.shortstr("reply text"); err != nil {
		return err
	}
	if m.ClassID, err = r.short("class id"); err != nil {
		return err
	}
	m.MethodID, err = r.short("method id")
	return err
}

// ConnectionCloseMethod represents the connection.close method
type ConnectionCloseMethod struct{ closeFields }

// ConnectionCloseOKMethod represents the connection.close-ok method
type ConnectionCloseOKMethod struct{ emptyMethod }

// ChannelOpenMethod represents the channel.open method
type ChannelOpenMethod struct {
	Reserved1 string
}

// Serialize encodes the ChannelOpenMethod into a byte slice
func (m *ChannelOpenMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	if err := w.shortstr(m.Reserved1); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

// Deserialize decodes the ChannelOpenMethod from a byte slice
func (m *ChannelOpenMethod) Deserialize(data []byte) error {
	var err error
	m.Reserved1, err = newFieldReader(data).shortstr("reserved")
	return err
}

// ChannelOpenOKMethod represents the channel.open-ok method
type ChannelOpenOKMethod struct {
	Reserved1 string
}

// Serialize encodes the ChannelOpenOKMethod into a byte slice
func (m *ChannelOpenOKMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.longstr([]byte(m.Reserved1))
	return w.bytes(), nil
}

// Deserialize decodes the ChannelOpenOKMethod from a byte slice
func (m *ChannelOpenOKMethod) Deserialize(data []byte) error {
	v, err := newFieldReader(data).longstr("reserved")
	m.Reserved1 = string(v)
	return err
}

// ChannelFlowMethod represents the channel.flow method
type ChannelFlowMethod struct {
	Active bool
}

// Serialize encodes the ChannelFlowMethod into a byte slice
func (m *ChannelFlowMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.bit(m.Active)
	return w.bytes(), nil
}

// Deserialize decodes the ChannelFlowMethod from a byte slice
func (m *ChannelFlowMethod) Deserialize(data []byte) error {
	var err error
	m.Active, err = newFieldReader(data).bit("active")
	return err
}

// ChannelFlowOKMethod represents the channel.flow-ok method
type ChannelFlowOKMethod struct {
	Active bool
}

// Serialize encodes the ChannelFlowOKMethod into a byte slice
func (m *ChannelFlowOKMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.bit(m.Active)
	return w.bytes(), nil
}

// Deserialize decodes the ChannelFlowOKMethod from a byte slice
func (m *ChannelFlowOKMethod) Deserialize(data []byte) error {
	var err error
	m.Active, err = newFieldReader(data).bit("active")
	return err
}

// ChannelCloseMethod represents the channel.close method
type ChannelCloseMethod struct{ closeFields }

// ChannelCloseOKMethod represents the channel.close-ok method
type ChannelCloseOKMethod struct{ emptyMethod }

// ExchangeDeclareMethod represents the exchange.declare method
type ExchangeDeclareMethod struct {
	Reserved1  uint16
	Exchange   string
	Type       string
	Passive    bool
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Arguments  Table
}

// Serialize encodes the ExchangeDeclareMethod into a byte slice
func (m *ExchangeDeclareMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.Reserved1)
	if err := w.shortstr(m.Exchange); err != nil {
		return nil, err
	}
	if err := w.shortstr(m.Type); err != nil {
		return nil, err
	}
	w.bit(m.Passive)
	w.bit(m.Durable)
	w.bit(m.AutoDelete)
	w.bit(m.Internal)
	w.bit(m.NoWait)
	if err := w.table(m.Arguments); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

// Deserialize decodes the ExchangeDeclareMethod from a byte slice
func (m *ExchangeDeclareMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.Reserved1, err = r.short("reserved"); err != nil {
		return err
	}
	if m.Exchange, err = r.shortstr("exchange name"); err != nil {
		return err
	}
	if m.Type, err = r.shortstr("exchange type"); err != nil {
		return err
	}
	for _, flag := range []*bool{&m.Passive, &m.Durable, &m.AutoDelete, &m.Internal, &m.NoWait} {
		if *flag, err = r.bit("flags"); err != nil {
			return err
		}
	}
	m.Arguments, err = r.table("arguments")
	return err
}

// ExchangeDeclareOKMethod represents the exchange.declare-ok method
type ExchangeDeclareOKMethod struct{ emptyMethod }

// ExchangeDeleteMethod represents the exchange.delete method
type ExchangeDeleteMethod struct {
	Reserved1 uint16
	Exchange  string
	IfUnused  bool
	NoWait    bool
}

// Serialize encodes the ExchangeDeleteMethod into a byte slice
func (m *ExchangeDeleteMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.Reserved1)
	if err := w.shortstr(m.Exchange); err != nil {
		return nil, err
	}
	w.bit(m.IfUnused)
	w.bit(m.NoWait)
	return w.bytes(), nil
}

// Deserialize decodes the ExchangeDeleteMethod from a byte slice
func (m *ExchangeDeleteMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.Reserved1, err = r.short("reserved"); err != nil {
		return err
	}
	if m.Exchange, err = r.shortstr("exchange name"); err != nil {
		return err
	}
	if m.IfUnused, err = r.bit("if-unused"); err != nil {
		return err
	}
	m.NoWait, err = r.bit("no-wait")
	return err
}

// ExchangeDeleteOKMethod represents the exchange.delete-ok method
type ExchangeDeleteOKMethod struct{ emptyMethod }

// exchangeBindingFields is shared by exchange.bind and exchange.unbind.
type exchangeBindingFields struct {
	Reserved1   uint16
	Destination string
	Source      string
	RoutingKey  string
	NoWait      bool
	Arguments   Table
}

func (m *exchangeBindingFields) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.Reserved1)
	for _, s := range []string{m.Destination, m.Source, m.RoutingKey} {
		if err := w.shortstr(s); err != nil {
			return nil, err
		}
	}
	w.bit(m.NoWait)
	if err := w.table(m.Arguments); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

func (m *exchangeBindingFields) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.Reserved1, err = r.short("reserved"); err != nil {
		return err
	}
	if m.Destination, err = r.shortstr("destination"); err != nil {
		return err
	}
	if m.Source, err = r.shortstr("source"); err != nil {
		return err
	}
	if m.RoutingKey, err = r.shortstr("routing key"); err != nil {
		return err
	}
	if m.NoWait, err = r.bit("no-wait"); err != nil {
		return err
	}
	m.Arguments, err = r.table("arguments")
	return err
}

// ExchangeBindMethod represents the exchange.bind method
type ExchangeBindMethod struct{ exchangeBindingFields }

// ExchangeBindOKMethod represents the exchange.bind-ok method
type ExchangeBindOKMethod struct{ emptyMethod }

// ExchangeUnbindMethod represents the exchange.unbind method
type ExchangeUnbindMethod struct{ exchangeBindingFields }

// ExchangeUnbindOKMethod represents the exchange.unbind-ok method
type ExchangeUnbindOKMethod struct{ emptyMethod }

// QueueDeclareMethod represents the queue.declare method
type QueueDeclareMethod struct {
	Reserved1  uint16
	Queue      string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  Table
}

// Serialize encodes the QueueDeclareMethod into a byte slice
func (m *QueueDeclareMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.Reserved1)
	if err := w.shortstr(m.Queue); err != nil {
		return nil, err
	}
	w.bit(m.Passive)
	w.bit(m.Durable)
	w.bit(m.Exclusive)
	w.bit(m.AutoDelete)
	w.bit(m.NoWait)
	if err := w.table(m.Arguments); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

// Deserialize decodes the QueueDeclareMethod from a byte slice
func (m *QueueDeclareMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.Reserved1, err = r.short("reserved"); err != nil {
		return err
	}
	if m.Queue, err = r.shortstr("queue name"); err != nil {
		return err
	}
	for _, flag := range []*bool{&m.Passive, &m.Durable, &m.Exclusive, &m.AutoDelete, &m.NoWait} {
		if *flag, err = r.bit("flags"); err != nil {
			return err
		}
	}
	m.Arguments, err = r.table("arguments")
	return err
}

// QueueDeclareOKMethod represents the queue.declare-ok method
type QueueDeclareOKMethod struct {
	Queue         string
	MessageCount  uint32
	ConsumerCount uint32
}

// Serialize encodes the QueueDeclareOKMethod into a byte slice
func (m *QueueDeclareOKMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	if err := w.shortstr(m.Queue); err != nil {
		return nil, err
	}
	w.long(m.MessageCount)
	w.long(m.ConsumerCount)
	return w.bytes(), nil
}

// Deserialize decodes the QueueDeclareOKMethod from a byte slice
func (m *QueueDeclareOKMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.Queue, err = r.shortstr("queue name"); err != nil {
		return err
	}
	if m.MessageCount, err = r.long("message count"); err != nil {
		return err
	}
	m.ConsumerCount, err = r.long("consumer count")
	return err
}

// queueBindingFields is shared by queue.bind and queue.unbind. Unbind has
// no no-wait bit, which the wire form of each method accounts for.
type queueBindingFields struct {
	Reserved1  uint16
	Queue      string
	Exchange   string
	RoutingKey string
	NoWait     bool
	Arguments  Table
}

func (m *queueBindingFields) serialize(withNoWait bool) ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.Reserved1)
	for _, s := range []string{m.Queue, m.Exchange, m.RoutingKey} {
		if err := w.shortstr(s); err != nil {
			return nil, err
		}
	}
	if withNoWait {
		w.bit(m.NoWait)
	}
	if err := w.table(m.Arguments); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

func (m *queueBindingFields) deserialize(data []byte, withNoWait bool) error {
	r := newFieldReader(data)
	var err error
	if m.Reserved1, err = r.short("reserved"); err != nil {
		return err
	}
	if m.Queue, err = r.shortstr("queue name"); err != nil {
		return err
	}
	if m.Exchange, err = r.shortstr("exchange name"); err != nil {
		return err
	}
	if m.RoutingKey, err = r.shortstr("routing key"); err != nil {
		return err
	}
	if withNoWait {
		if m.NoWait, err = r.bit("no-wait"); err != nil {
			return err
		}
	}
	m.Arguments, err = r.table("arguments")
	return err
}

// QueueBindMethod represents the queue.bind method
type QueueBindMethod struct{ queueBindingFields }

// Serialize encodes the QueueBindMethod into a byte slice
func (m *QueueBindMethod) Serialize() ([]byte, error) { return m.serialize(true) }

// Deserialize decodes the QueueBindMethod from a byte slice
func (m *QueueBindMethod) Deserialize(data []byte) error { return m.deserialize(data, true) }

// QueueBindOKMethod represents the queue.bind-ok method
type QueueBindOKMethod struct{ emptyMethod }

// QueueUnbindMethod represents the queue.unbind method
type QueueUnbindMethod struct{ queueBindingFields }

// Serialize encodes the QueueUnbindMethod into a byte slice
func (m *QueueUnbindMethod) Serialize() ([]byte, error) { return m.serialize(false) }

// Deserialize decodes the QueueUnbindMethod from a byte slice
func (m *QueueUnbindMethod) Deserialize(data []byte) error { return m.deserialize(data, false) }

// QueueUnbindOKMethod represents the queue.unbind-ok method
type QueueUnbindOKMethod struct{ emptyMethod }

// QueuePurgeMethod represents the queue.purge method
type QueuePurgeMethod struct {
	Reserved1 uint16
	Queue     string
	NoWait    bool
}

// Serialize encodes the QueuePurgeMethod into a byte slice
func (m *QueuePurgeMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.Reserved1)
	if err := w.shortstr(m.Queue); err != nil {
		return nil, err
	}
	w.bit(m.NoWait)
	return w.bytes(), nil
}

// Deserialize decodes the QueuePurgeMethod from a byte slice
func (m *QueuePurgeMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.Reserved1, err = r.short("reserved"); err != nil {
		return err
	}
	if m.Queue, err = r.shortstr("queue name"); err != nil {
		return err
	}
	m.NoWait, err = r.bit("no-wait")
	return err
}

// messageCountFields is shared by queue.purge-ok and queue.delete-ok.
type messageCountFields struct {
	MessageCount uint32
}

func (m *messageCountFields) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.long(m.MessageCount)
	return w.bytes(), nil
}

func (m *messageCountFields) Deserialize(data []byte) error {
	var err error
	m.MessageCount, err = newFieldReader(data).long("message count")
	return err
}

// QueuePurgeOKMethod represents the queue.purge-ok method
type QueuePurgeOKMethod struct{ messageCountFields }

// QueueDeleteMethod represents the queue.delete method
type QueueDeleteMethod struct {
	Reserved1 uint16
	Queue     string
	IfUnused  bool
	IfEmpty   bool
	NoWait    bool
}

// Serialize encodes the QueueDeleteMethod into a byte slice
func (m *QueueDeleteMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.Reserved1)
	if err := w.shortstr(m.Queue); err != nil {
		return nil, err
	}
	w.bit(m.IfUnused)
	w.bit(m.IfEmpty)
	w.bit(m.NoWait)
	return w.bytes(), nil
}

// Deserialize decodes the QueueDeleteMethod from a byte slice
func (m *QueueDeleteMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.Reserved1, err = r.short("reserved"); err != nil {
		return err
	}
	if m.Queue, err = r.shortstr("queue name"); err != nil {
		return err
	}
	for _, flag := range []*bool{&m.IfUnused, &m.IfEmpty, &m.NoWait} {
		if *flag, err = r.bit("flags"); err != nil {
			return err
		}
	}
	return nil
}

// QueueDeleteOKMethod represents the queue.delete-ok method
type QueueDeleteOKMethod struct{ messageCountFields }

// BasicQosMethod represents the basic.qos method
type BasicQosMethod struct {
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}

// Serialize encodes the BasicQosMethod into a byte slice
func (m *BasicQosMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.long(m.PrefetchSize)
	w.short(m.PrefetchCount)
	w.bit(m.Global)
	return w.bytes(), nil
}

// Deserialize decodes the BasicQosMethod from a byte slice
func (m *BasicQosMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.PrefetchSize, err = r.long("prefetch size"); err != nil {
		return err
	}
	if m.PrefetchCount, err = r.short("prefetch count"); err != nil {
		return err
	}
	m.Global, err = r.bit("global")
	return err
}

// BasicQosOKMethod represents the basic.qos-ok method
type BasicQosOKMethod struct{ emptyMethod }

// BasicConsumeMethod represents the basic.consume method
type BasicConsumeMethod struct {
	Reserved1   uint16
	Queue       string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   Table
}

// Serialize encodes the BasicConsumeMethod into a byte slice
func (m *BasicConsumeMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.Reserved1)
	if err := w.shortstr(m.Queue); err != nil {
		return nil, err
	}
	if err := w.shortstr(m.ConsumerTag); err != nil {
		return nil, err
	}
	w.bit(m.NoLocal)
	w.bit(m.NoAck)
	w.bit(m.Exclusive)
	w.bit(m.NoWait)
	if err := w.table(m.Arguments); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

// Deserialize decodes the BasicConsumeMethod from a byte slice
func (m *BasicConsumeMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.Reserved1, err = r.short("reserved"); err != nil {
		return err
	}
	if m.Queue, err = r.shortstr("queue name"); err != nil {
		return err
	}
	if m.ConsumerTag, err = r.shortstr("consumer tag"); err != nil {
		return err
	}
	for _, flag := range []*bool{&m.NoLocal, &m.NoAck, &m.Exclusive, &m.NoWait} {
		if *flag, err = r.bit("flags"); err != nil {
			return err
		}
	}
	m.Arguments, err = r.table("arguments")
	return err
}

// consumerTagFields is shared by basic.consume-ok and basic.cancel-ok.
type consumerTagFields struct {
	ConsumerTag string
}

func (m *consumerTagFields) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	if err := w.shortstr(m.ConsumerTag); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

func (m *consumerTagFields) Deserialize(data []byte) error {
	var err error
	m.ConsumerTag, err = newFieldReader(data).shortstr("consumer tag")
	return err
}

// BasicConsumeOKMethod represents the basic.consume-ok method
type BasicConsumeOKMethod struct{ consumerTagFields }

// BasicCancelMethod represents the basic.cancel method
type BasicCancelMethod struct {
	ConsumerTag string
	NoWait      bool
}

// Serialize encodes the BasicCancelMethod into a byte slice
func (m *BasicCancelMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	if err := w.shortstr(m.ConsumerTag); err != nil {
		return nil, err
	}
	w.bit(m.NoWait)
	return w.bytes(), nil
}

// Deserialize decodes the BasicCancelMethod from a byte slice
func (m *BasicCancelMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.ConsumerTag, err = r.shortstr("consumer tag"); err != nil {
		return err
	}
	m.NoWait, err = r.bit("no-wait")
	return err
}

// BasicCancelOKMethod represents the basic.cancel-ok method
type BasicCancelOKMethod struct{ consumerTagFields }

// BasicPublishMethod represents the basic.publish method
type BasicPublishMethod struct {
	Reserved1  uint16
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
}

// Serialize encodes the BasicPublishMethod into a byte slice
func (m *BasicPublishMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.Reserved1)
	if err := w.shortstr(m.Exchange); err != nil {
		return nil, err
	}
	if err := w.shortstr(m.RoutingKey); err != nil {
		return nil, err
	}
	w.bit(m.Mandatory)
	w.bit(m.Immediate)
	return w.bytes(), nil
}

// Deserialize decodes the BasicPublishMethod from a byte slice
func (m *BasicPublishMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.Reserved1, err = r.short("reserved"); err != nil {
		return err
	}
	if m.Exchange, err = r.shortstr("exchange name"); err != nil {
		return err
	}
	if m.RoutingKey, err = r.shortstr("routing key"); err != nil {
		return err
	}
	if m.Mandatory, err = r.bit("mandatory"); err != nil {
		return err
	}
	m.Immediate, err = r.bit("immediate")
	return err
}

// BasicReturnMethod represents the basic.return method
type BasicReturnMethod struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

// Serialize encodes the BasicReturnMethod into a byte slice
func (m *BasicReturnMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.ReplyCode)
	for _, s := range []string{m.ReplyText, m.Exchange, m.RoutingKey} {
		if err := w.shortstr(s); err != nil {
			return nil, err
		}
	}
	return w.bytes(), nil
}

// Deserialize decodes the BasicReturnMethod from a byte slice
func (m *BasicReturnMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.ReplyCode, err = r.short("reply code"); err != nil {
		return err
	}
	if m.ReplyText, err = r.shortstr("reply text"); err != nil {
		return err
	}
	if m.Exchange, err = r.shortstr("exchange name"); err != nil {
		return err
	}
	m.RoutingKey, err = r.shortstr("routing key")
	return err
}

// BasicDeliverMethod represents the basic.deliver method
type BasicDeliverMethod struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

// Serialize encodes the BasicDeliverMethod into a byte slice
func (m *BasicDeliverMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	if err := w.shortstr(m.ConsumerTag); err != nil {
		return nil, err
	}
	w.longlong(m.DeliveryTag)
	w.bit(m.Redelivered)
	if err := w.shortstr(m.Exchange); err != nil {
		return nil, err
	}
	if err := w.shortstr(m.RoutingKey); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

// Deserialize decodes the BasicDeliverMethod from a byte slice
func (m *BasicDeliverMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.ConsumerTag, err = r.shortstr("consumer tag"); err != nil {
		return err
	}
	if m.DeliveryTag, err = r.longlong("delivery tag"); err != nil {
		return err
	}
	if m.Redelivered, err = r.bit("redelivered"); err != nil {
		return err
	}
	if m.Exchange, err = r.shortstr("exchange name"); err != nil {
		return err
	}
	m.RoutingKey, err = r.shortstr("routing key")
	return err
}

// BasicGetMethod represents the basic.get method
type BasicGetMethod struct {
	Reserved1 uint16
	Queue     string
	NoAck     bool
}

// Serialize encodes the BasicGetMethod into a byte slice
func (m *BasicGetMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(m.Reserved1)
	if err := w.shortstr(m.Queue); err != nil {
		return nil, err
	}
	w.bit(m.NoAck)
	return w.bytes(), nil
}

// Deserialize decodes the BasicGetMethod from a byte slice
func (m *BasicGetMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.Reserved1, err = r.short("reserved"); err != nil {
		return err
	}
	if m.Queue, err = r.shortstr("queue name"); err != nil {
		return err
	}
	m.NoAck, err = r.bit("no-ack")
	return err
}

// BasicGetOKMethod represents the basic.get-ok method
type BasicGetOKMethod struct {
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32
}

// Serialize encodes the BasicGetOKMethod into a byte slice
func (m *BasicGetOKMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.longlong(m.DeliveryTag)
	w.bit(m.Redelivered)
	if err := w.shortstr(m.Exchange); err != nil {
		return nil, err
	}
	if err := w.shortstr(m.RoutingKey); err != nil {
		return nil, err
	}
	w.long(m.MessageCount)
	return w.bytes(), nil
}

// Deserialize decodes the BasicGetOKMethod from a byte slice
func (m *BasicGetOKMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.DeliveryTag, err = r.longlong("delivery tag"); err != nil {
		return err
	}
	if m.Redelivered, err = r.bit("redelivered"); err != nil {
		return err
	}
	if m.Exchange, err = r.shortstr("exchange name"); err != nil {
		return err
	}
	if m.RoutingKey, err = r.shortstr("routing key"); err != nil {
		return err
	}
	m.MessageCount, err = r.long("message count")
	return err
}

// BasicGetEmptyMethod represents the basic.get-empty method
type BasicGetEmptyMethod struct {
	Reserved1 string
}

// Serialize encodes the BasicGetEmptyMethod into a byte slice
func (m *BasicGetEmptyMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	if err := w.shortstr(m.Reserved1); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

// Deserialize decodes the BasicGetEmptyMethod from a byte slice
func (m *BasicGetEmptyMethod) Deserialize(data []byte) error {
	var err error
	m.Reserved1, err = newFieldReader(data).shortstr("reserved")
	return err
}

// BasicAckMethod represents the basic.ack method
type BasicAckMethod struct {
	DeliveryTag uint64
	Multiple    bool
}

// Serialize encodes the BasicAckMethod into a byte slice
func (m *BasicAckMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.longlong(m.DeliveryTag)
	w.bit(m.Multiple)
	return w.bytes(), nil
}

// Deserialize decodes the BasicAckMethod from a byte slice
func (m *BasicAckMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.DeliveryTag, err = r.longlong("delivery tag"); err != nil {
		return err
	}
	m.Multiple, err = r.bit("multiple")
	return err
}

// BasicRejectMethod represents the basic.reject method
type BasicRejectMethod struct {
	DeliveryTag uint64
	Requeue     bool
}

// Serialize encodes the BasicRejectMethod into a byte slice
func (m *BasicRejectMethod) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.longlong(m.DeliveryTag)
	w.bit(m.Requeue)
	return w.bytes(), nil
}

// Deserialize decodes the BasicRejectMethod from a byte slice
func (m *BasicRejectMethod) Deserialize(data []byte) error {
	r := newFieldReader(data)
	var err error
	if m.DeliveryTag, err = r.longlong("delivery tag"); err != nil {
		return err
	}
	m.Requeue, err = r.bit("requeue")
	return err
}

// TxSelectMethod represents the tx.select method
type TxSelectMethod struct{ emptyMethod }

// TxSelectOKMethod represents the tx.select-ok method
type TxSelectOKMethod struct{ emptyMethod }

// TxCommitMethod represents the tx.commit method
type TxCommitMethod struct{ emptyMethod }

// TxCommitOKMethod represents the tx.commit-ok method
type TxCommitOKMethod struct{ emptyMethod }

// TxRollbackMethod represents the tx.rollback method
type TxRollbackMethod struct{ emptyMethod }

// TxRollbackOKMethod represents the tx.rollback-ok method
type TxRollbackOKMethod struct{ emptyMethod }
