package client

import (
	"fmt"

	"github.com/maxpert/amqp-go-client/protocol"
)

// contentAssembler collects the header and body frames that follow a
// content-bearing method (basic.get-ok, basic.deliver, basic.return).
type contentAssembler struct {
	key    protocol.MethodKey
	method protocol.Method
	header *protocol.ContentHeader
	body   []byte
}

func newContentAssembler(key protocol.MethodKey, method protocol.Method) *contentAssembler {
	return &contentAssembler{key: key, method: method}
}

// add consumes one frame and reports whether the message is complete.
func (a *contentAssembler) add(frame *protocol.Frame) (bool, error) {
	switch frame.Type {
	case protocol.FrameHeader:
		if a.header != nil {
			return false, fmt.Errorf("duplicate content header for %s", a.key)
		}
		header, err := protocol.ReadContentHeader(frame)
		if err != nil {
			return false, err
		}
		a.header = header
		a.body = make([]byte, 0, header.BodySize)
		return header.BodySize == 0, nil

	case protocol.FrameBody:
		if a.header == nil {
			return false, fmt.Errorf("body frame before content header for %s", a.key)
		}
		a.body = append(a.body, frame.Payload...)
		if uint64(len(a.body)) > a.header.BodySize {
			return false, fmt.Errorf("body of %s exceeds declared size %d", a.key, a.header.BodySize)
		}
		return uint64(len(a.body)) == a.header.BodySize, nil

	default:
		return false, fmt.Errorf("unexpected frame type %d while assembling %s", frame.Type, a.key)
	}
}
