package protocol

import (
	"fmt"
)

// ContentHeader represents the content header frame
type ContentHeader struct {
	ClassID         uint16
	Weight          uint16
	BodySize        uint64
	PropertyFlags   uint16
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       uint64
	Type            string
	UserID          string
	AppID           string
	ClusterID       string
}

// Property flags for AMQP content header
const (
	FlagContentType     = 0x8000
	FlagContentEncoding = 0x4000
	FlagHeaders         = 0x2000
	FlagDeliveryMode    = 0x1000
	FlagPriority        = 0x0800
	FlagCorrelationID   = 0x0400
	FlagReplyTo         = 0x0200
	FlagExpiration      = 0x0100
	FlagMessageID       = 0x0080
	FlagTimestamp       = 0x0040
	FlagType            = 0x0020
	FlagUserID          = 0x0010
	FlagAppID           = 0x0008
	FlagClusterID       = 0x0004
)

// shortProperty binds a short-string property to its presence flag and name.
type shortProperty struct {
	flag  uint16
	name  string
	value func(h *ContentHeader) *string
}

// Wire order of the short-string properties that follow priority.
var trailingShortProperties = []shortProperty{
	{FlagCorrelationID, "correlation_id", func(h *ContentHeader) *string { return &h.CorrelationID }},
	{FlagReplyTo, "reply_to", func(h *ContentHeader) *string { return &h.ReplyTo }},
	{FlagExpiration, "expiration", func(h *ContentHeader) *string { return &h.Expiration }},
	{FlagMessageID, "message_id", func(h *ContentHeader) *string { return &h.MessageID }},
}

var finalShortProperties = []shortProperty{
	{FlagType, "type", func(h *ContentHeader) *string { return &h.Type }},
	{FlagUserID, "user_id", func(h *ContentHeader) *string { return &h.UserID }},
	{FlagAppID, "app_id", func(h *ContentHeader) *string { return &h.AppID }},
	{FlagClusterID, "cluster_id", func(h *ContentHeader) *string { return &h.ClusterID }},
}

// ReadContentHeader reads a content header frame
func ReadContentHeader(frame *Frame) (*ContentHeader, error) {
	if frame.Type != FrameHeader {
		return nil, fmt.Errorf("expected header frame, got type %d", frame.Type)
	}

	// Minimum: class(2) + weight(2) + body-size(8) + flags(2)
	if len(frame.Payload) < 14 {
		return nil, fmt.Errorf("content header frame too short")
	}

	r := newFieldReader(frame.Payload)
	h := &ContentHeader{}
	h.ClassID, _ = r.short("class id")
	h.Weight, _ = r.short("weight")
	h.BodySize, _ = r.longlong("body size")
	h.PropertyFlags, _ = r.short("property flags")

	var err error
	if h.PropertyFlags&FlagContentType != 0 {
		if h.ContentType, err = r.shortstr("content type"); err != nil {
			return nil, err
		}
	}
	if h.PropertyFlags&FlagContentEncoding != 0 {
		if h.ContentEncoding, err = r.shortstr("content encoding"); err != nil {
			return nil, err
		}
	}
	if h.PropertyFlags&FlagHeaders != 0 {
		if h.Headers, err = r.table("headers"); err != nil {
			return nil, err
		}
	}
	if h.PropertyFlags&FlagDeliveryMode != 0 {
		if h.DeliveryMode, err = r.octet("delivery mode"); err != nil {
			return nil, err
		}
	}
	if h.PropertyFlags&FlagPriority != 0 {
		if h.Priority, err = r.octet("priority"); err != nil {
			return nil, err
		}
	}
	if err := h.readShortProperties(r, trailingShortProperties); err != nil {
		return nil, err
	}
	if h.PropertyFlags&FlagTimestamp != 0 {
		if h.Timestamp, err = r.longlong("timestamp"); err != nil {
			return nil, err
		}
	}
	if err := h.readShortProperties(r, finalShortProperties); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *ContentHeader) readShortProperties(r *fieldReader, props []shortProperty) error {
	for _, p := range props {
		if h.PropertyFlags&p.flag == 0 {
			continue
		}
		v, err := r.shortstr(p.name)
		if err != nil {
			return err
		}
		*p.value(h) = v
	}
	return nil
}

func (h *ContentHeader) writeShortProperties(w *fieldWriter, props []shortProperty) error {
	for _, p := range props {
		if h.PropertyFlags&p.flag == 0 {
			continue
		}
		if err := w.shortstr(*p.value(h)); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}

// Serialize encodes the ContentHeader into a byte slice
func (h *ContentHeader) Serialize() ([]byte, error) {
	w := &fieldWriter{}
	w.short(h.ClassID)
	w.short(h.Weight)
	w.longlong(h.BodySize)
	w.short(h.PropertyFlags)

	if h.PropertyFlags&FlagContentType != 0 {
		if err := w.shortstr(h.ContentType); err != nil {
			return nil, fmt.Errorf("content type: %w", err)
		}
	}
	if h.PropertyFlags&FlagContentEncoding != 0 {
		if err := w.shortstr(h.ContentEncoding); err != nil {
			return nil, fmt.Errorf("content encoding: %w", err)
		}
	}
	if h.PropertyFlags&FlagHeaders != 0 {
		if err := w.table(h.Headers); err != nil {
			return nil, fmt.Errorf("error encoding headers: %w", err)
		}
	}
	if h.PropertyFlags&FlagDeliveryMode != 0 {
		w.octet(h.DeliveryMode)
	}
	if h.PropertyFlags&FlagPriority != 0 {
		w.octet(h.Priority)
	}
	if err := h.writeShortProperties(w, trailingShortProperties); err != nil {
		return nil, err
	}
	if h.PropertyFlags&FlagTimestamp != 0 {
		w.longlong(h.Timestamp)
	}
	if err := h.writeShortProperties(w, finalShortProperties); err != nil {
		return nil, err
	}

	return w.bytes(), nil
}

// Properties returns the properties whose presence flag is set, keyed by
// their AMQP names.
func (h *ContentHeader) Properties() map[string]interface{} {
	props := make(map[string]interface{})
	if h.PropertyFlags&FlagContentType != 0 {
		props["content_type"] = h.ContentType
	}
	if h.PropertyFlags&FlagContentEncoding != 0 {
		props["content_encoding"] = h.ContentEncoding
	}
	if h.PropertyFlags&FlagHeaders != 0 {
		props["headers"] = h.Headers
	}
	if h.PropertyFlags&FlagDeliveryMode != 0 {
		props["delivery_mode"] = h.DeliveryMode
	}
	if h.PropertyFlags&FlagPriority != 0 {
		props["priority"] = h.Priority
	}
	for _, p := range trailingShortProperties {
		if h.PropertyFlags&p.flag != 0 {
			props[p.name] = *p.value(h)
		}
	}
	if h.PropertyFlags&FlagTimestamp != 0 {
		props["timestamp"] = h.Timestamp
	}
	for _, p := range finalShortProperties {
		if h.PropertyFlags&p.flag != 0 {
			props[p.name] = *p.value(h)
		}
	}
	return props
}
