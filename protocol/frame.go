package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Frame types as defined in the AMQP specification
const (
	FrameMethod    = 1
	FrameHeader    = 2
	FrameBody      = 3
	FrameHeartbeat = 8
	FrameEnd       = 0xCE // Frame end marker byte
)

// frameOverhead is type(1) + channel(2) + size(4) + end(1)
const frameOverhead = 8

// Frame represents an AMQP frame
type Frame struct {
	Type    byte
	Channel uint16
	Size    uint32
	Payload []byte
}

// MarshalBinary encodes a frame into binary format following AMQP 0.9.1 spec
// Format: (1-byte type) + (2-byte channel) + (4-byte size) + (size-byte payload) + (1-byte end: 0xCE)
func (f *Frame) MarshalBinary() ([]byte, error) {
	data := make([]byte, frameOverhead+len(f.Payload))

	data[0] = f.Type
	binary.BigEndian.PutUint16(data[1:3], f.Channel)
	binary.BigEndian.PutUint32(data[3:7], uint32(len(f.Payload)))
	copy(data[7:], f.Payload)
	data[7+len(f.Payload)] = FrameEnd

	return data, nil
}

// UnmarshalBinary decodes a frame from binary format
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < frameOverhead {
		return fmt.Errorf("frame too short")
	}

	f.Type = data[0]
	f.Channel = binary.BigEndian.Uint16(data[1:3])
	payloadSize := binary.BigEndian.Uint32(data[3:7])

	if len(data) != int(7+payloadSize+1) {
		return fmt.Errorf("frame size mismatch: expected %d bytes but got %d", 7+payloadSize+1, len(data))
	}

	f.Size = payloadSize
	f.Payload = make([]byte, f.Size)
	copy(f.Payload, data[7:7+f.Size])

	if data[7+f.Size] != FrameEnd {
		return fmt.Errorf("invalid frame end-byte")
	}

	return nil
}

// ReadFrame reads a frame from an io.Reader
func ReadFrame(reader io.Reader) (*Frame, error) {
	// type, channel, size
	var header [7]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return nil, err
	}

	frameType := header[0]
	channel := binary.BigEndian.Uint16(header[1:3])
	size := binary.BigEndian.Uint32(header[3:7])

	// payload + end-byte
	payload := make([]byte, size+1)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, err
	}

	if payload[size] != FrameEnd {
		return nil, fmt.Errorf("invalid frame end-byte")
	}

	return &Frame{
		Type:    frameType,
		Channel: channel,
		Size:    size,
		Payload: payload[:size],
	}, nil
}

// WriteFrame writes a frame to an io.Writer in a single Write call.
func WriteFrame(writer io.Writer, frame *Frame) error {
	data, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = writer.Write(data)
	return err
}

// MethodKeyOf returns the class and method ids carried by a method frame
// without decoding its arguments.
func (f *Frame) MethodKeyOf() (MethodKey, bool) {
	if f.Type != FrameMethod || len(f.Payload) < 4 {
		return MethodKey{}, false
	}
	return MethodKey{
		Class:  binary.BigEndian.Uint16(f.Payload[0:2]),
		Method: binary.BigEndian.Uint16(f.Payload[2:4]),
	}, true
}

// EncodeMethodFrameForChannel creates a method frame for a specific channel
func EncodeMethodFrameForChannel(channelID uint16, classID, methodID uint16, methodData []byte) *Frame {
	payload := make([]byte, 4+len(methodData))
	binary.BigEndian.PutUint16(payload[0:2], classID)
	binary.BigEndian.PutUint16(payload[2:4], methodID)
	copy(payload[4:], methodData)

	return &Frame{
		Type:    FrameMethod,
		Channel: channelID,
		Size:    uint32(len(payload)),
		Payload: payload,
	}
}

// EncodeHeaderFrameForChannel creates a content header frame for a specific channel
func EncodeHeaderFrameForChannel(channelID uint16, headerData []byte) *Frame {
	return &Frame{
		Type:    FrameHeader,
		Channel: channelID,
		Size:    uint32(len(headerData)),
		Payload: headerData,
	}
}

// EncodeBodyFrameForChannel creates a body frame for a specific channel
func EncodeBodyFrameForChannel(channelID uint16, bodyData []byte) *Frame {
	return &Frame{
		Type:    FrameBody,
		Channel: channelID,
		Size:    uint32(len(bodyData)),
		Payload: bodyData,
	}
}

// bufferedWriter flushes after every frame so a frame never sits in the
// buffer while the peer waits for it.
type bufferedWriter struct {
	w *bufio.Writer
}

func (b *bufferedWriter) writeFrame(frame *Frame) error {
	if err := WriteFrame(b.w, frame); err != nil {
		return err
	}
	return b.w.Flush()
}
