package broker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/maxpert/amqp-go-client/protocol"
)

const snapshotVersion = 1

// snapshot is the durable state of a broker: durable exchanges, durable
// queues with their persistent messages, and bindings between durable
// entities. Tables and content headers are kept in AMQP wire form so
// field types survive a round trip.
type snapshot struct {
	Version   int              `cbor:"version"`
	Exchanges []exchangeRecord `cbor:"exchanges"`
	Queues    []queueRecord    `cbor:"queues"`
	Bindings  []bindingRecord  `cbor:"bindings"`
}

type exchangeRecord struct {
	Name       string `cbor:"name"`
	Kind       string `cbor:"kind"`
	AutoDelete bool   `cbor:"auto_delete"`
	Internal   bool   `cbor:"internal"`
	Arguments  []byte `cbor:"arguments,omitempty"`
}

type queueRecord struct {
	Name       string          `cbor:"name"`
	AutoDelete bool            `cbor:"auto_delete"`
	Arguments  []byte          `cbor:"arguments,omitempty"`
	Messages   []messageRecord `cbor:"messages,omitempty"`
}

type messageRecord struct {
	Exchange    string `cbor:"exchange"`
	RoutingKey  string `cbor:"routing_key"`
	Header      []byte `cbor:"header"`
	Body        []byte `cbor:"body"`
	Redelivered bool   `cbor:"redelivered"`
}

type bindingRecord struct {
	Source      string `cbor:"source"`
	Destination string `cbor:"destination"`
	ToExchange  bool   `cbor:"to_exchange"`
	RoutingKey  string `cbor:"routing_key"`
	Arguments   []byte `cbor:"arguments,omitempty"`
}

func encodeTable(t protocol.Table) ([]byte, error) {
	if t == nil {
		return nil, nil
	}
	return protocol.EncodeFieldTable(t)
}

func decodeTable(data []byte) (protocol.Table, error) {
	if data == nil {
		return nil, nil
	}
	return protocol.DecodeFieldTable(data)
}

// Snapshot encodes the durable state of the broker as CBOR. Messages held
// unacknowledged by consumers are not included.
func (b *Broker) Snapshot() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := snapshot{Version: snapshotVersion}
	durableExchange := func(name string) bool {
		ex, ok := b.exchanges[name]
		return ok && ex.Durable
	}

	for _, ex := range b.exchanges {
		if !ex.Durable || builtinExchange(ex.Name) {
			continue
		}
		args, err := encodeTable(ex.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments of exchange %s: %w", ex.Name, err)
		}
		snap.Exchanges = append(snap.Exchanges, exchangeRecord{
			Name:       ex.Name,
			Kind:       ex.Kind,
			AutoDelete: ex.AutoDelete,
			Internal:   ex.Internal,
			Arguments:  args,
		})
	}

	for _, q := range b.queues {
		if !q.Durable || q.Exclusive {
			continue
		}
		args, err := encodeTable(q.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments of queue %s: %w", q.Name, err)
		}
		rec := queueRecord{Name: q.Name, AutoDelete: q.AutoDelete, Arguments: args}
		for _, msg := range q.messages {
			if !msg.persistent() {
				continue
			}
			header, err := msg.Header.Serialize()
			if err != nil {
				return nil, fmt.Errorf("failed to encode message header in queue %s: %w", q.Name, err)
			}
			rec.Messages = append(rec.Messages, messageRecord{
				Exchange:    msg.Exchange,
				RoutingKey:  msg.RoutingKey,
				Header:      header,
				Body:        msg.Body,
				Redelivered: msg.Redelivered,
			})
		}
		snap.Queues = append(snap.Queues, rec)
	}

	for _, bd := range b.bindings {
		if !durableExchange(bd.Source) {
			continue
		}
		if bd.ToExchange && !durableExchange(bd.Destination) {
			continue
		}
		if q, ok := b.queues[bd.Destination]; !bd.ToExchange && (!ok || !q.Durable || q.Exclusive) {
			continue
		}
		args, err := encodeTable(bd.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to encode binding arguments: %w", err)
		}
		snap.Bindings = append(snap.Bindings, bindingRecord{
			Source:      bd.Source,
			Destination: bd.Destination,
			ToExchange:  bd.ToExchange,
			RoutingKey:  bd.RoutingKey,
			Arguments:   args,
		})
	}

	data, err := cbor.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// Restore loads a snapshot into the broker, replacing entities with the
// same names. Channels and consumers are untouched.
func (b *Broker) Restore(data []byte) error {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	exchanges := make([]*Exchange, 0, len(snap.Exchanges))
	for _, rec := range snap.Exchanges {
		args, err := decodeTable(rec.Arguments)
		if err != nil {
			return fmt.Errorf("exchange %s: %w", rec.Name, err)
		}
		exchanges = append(exchanges, &Exchange{
			Name:       rec.Name,
			Kind:       rec.Kind,
			Durable:    true,
			AutoDelete: rec.AutoDelete,
			Internal:   rec.Internal,
			Arguments:  args,
		})
	}

	queues := make([]*Queue, 0, len(snap.Queues))
	for _, rec := range snap.Queues {
		args, err := decodeTable(rec.Arguments)
		if err != nil {
			return fmt.Errorf("queue %s: %w", rec.Name, err)
		}
		q := &Queue{Name: rec.Name, Durable: true, AutoDelete: rec.AutoDelete, Arguments: args}
		for _, m := range rec.Messages {
			header, err := protocol.ReadContentHeader(&protocol.Frame{Type: protocol.FrameHeader, Payload: m.Header})
			if err != nil {
				return fmt.Errorf("queue %s: %w", rec.Name, err)
			}
			q.messages = append(q.messages, &Message{
				Exchange:    m.Exchange,
				RoutingKey:  m.RoutingKey,
				Header:      header,
				Body:        m.Body,
				Redelivered: m.Redelivered,
			})
		}
		queues = append(queues, q)
	}

	bindings := make([]*Binding, 0, len(snap.Bindings))
	for _, rec := range snap.Bindings {
		args, err := decodeTable(rec.Arguments)
		if err != nil {
			return fmt.Errorf("binding %s -> %s: %w", rec.Source, rec.Destination, err)
		}
		bindings = append(bindings, &Binding{
			Source:      rec.Source,
			Destination: rec.Destination,
			ToExchange:  rec.ToExchange,
			RoutingKey:  rec.RoutingKey,
			Arguments:   args,
		})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ex := range exchanges {
		b.exchanges[ex.Name] = ex
	}
	for _, q := range queues {
		b.queues[q.Name] = q
	}
	for _, bd := range bindings {
		b.addBindingLocked(bd)
	}
	b.updateTotalsLocked()
	b.log.Info("Broker state restored",
		zap.Int("exchanges", len(exchanges)),
		zap.Int("queues", len(queues)),
		zap.Int("bindings", len(bindings)))
	return nil
}

// SaveSnapshot writes the snapshot to path atomically using a temp file
// and rename.
func (b *Broker) SaveSnapshot(path string) error {
	data, err := b.Snapshot()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// LoadSnapshot restores the snapshot stored at path.
func (b *Broker) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return b.Restore(data)
}
