// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package admission

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/samber/oops"

	"github.com/stardew-valley-dedicated-server/gateway/pkg/host"
)

// Availability is one outbound slot-listing message: the in-game date plus
// the slots visible to the requesting connection.
type Availability struct {
	Date  host.GameDate
	Slots []*host.SlotRecord
}

// maxWireString bounds every length-prefixed string in a slot payload.
const maxWireString = 255

// slotCodec turns slots into wire payloads, reusing one scratch buffer
// across writes. All slot writes happen on the engine's message loop, so
// the shared instance needs no locking of its own.
type slotCodec struct {
	scratch []byte
}

var (
	codecOnce sync.Once
	codecInst *slotCodec
)

// sharedCodec returns the lazily built process-wide codec.
func sharedCodec() *slotCodec {
	codecOnce.Do(func() {
		codecInst = &slotCodec{scratch: make([]byte, 0, 256)}
	})
	return codecInst
}

// encode builds the payload for one slot. The returned slice aliases the
// codec's scratch buffer and is only valid until the next encode call.
func (c *slotCodec) encode(slot *host.SlotRecord) ([]byte, error) {
	buf := c.scratch[:0]

	var err error
	for _, field := range []struct {
		name  string
		value string
	}{
		{"name", slot.Name},
		{"owner_id", slot.OwnerID},
		{"spawn_location", slot.Spawn.Location},
	} {
		buf, err = appendWireString(buf, field.value)
		if err != nil {
			return nil, oops.
				With("slot", slot.Name).
				With("field", field.name).
				Wrap(err)
		}
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(int32(slot.Spawn.Position.X)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(int32(slot.Spawn.Position.Y)))

	var flags byte
	if slot.Spawn.SleptInTemporaryBed {
		flags |= 1
	}
	buf = append(buf, flags)

	c.scratch = buf
	return buf, nil
}

// appendWireString appends a uint8 length prefix and the raw bytes.
func appendWireString(buf []byte, s string) ([]byte, error) {
	if len(s) > maxWireString {
		return nil, oops.
			With("length", len(s)).
			Errorf("string exceeds %d bytes", maxWireString)
	}
	buf = append(buf, byte(len(s)))
	return append(buf, s...), nil
}

// Encoder writes availability messages in the binary listing format: a
// five-byte header {year:uint16, seasonIndex:uint8, dayOfMonth:uint8,
// slotCount:uint8}, big-endian, followed by one length-prefixed payload per
// slot.
//
// The zero value is ready to use. An Encoder borrows the shared slot codec
// for the duration of one message and detaches it before returning, so a
// failed send never leaves the codec attached.
type Encoder struct {
	codec *slotCodec
}

// EncodeHeader writes the availability header. slotCount must fit the wire
// format's uint8 counter.
func (e *Encoder) EncodeHeader(w io.Writer, date host.GameDate, slotCount int) error {
	if slotCount < 0 || slotCount > 255 {
		return oops.
			With("slot_count", slotCount).
			Errorf("slot count does not fit the listing header")
	}

	var header [5]byte
	binary.BigEndian.PutUint16(header[0:2], date.Year)
	header[2] = date.SeasonIndex
	header[3] = date.DayOfMonth
	header[4] = byte(slotCount)

	if _, err := w.Write(header[:]); err != nil {
		return oops.Wrapf(err, "writing availability header")
	}
	return nil
}

// EncodeSlot writes one slot payload with its uint16 length prefix. It is
// called once per listed slot, between EncodeHeader and the send.
func (e *Encoder) EncodeSlot(w io.Writer, slot *host.SlotRecord) error {
	codec := e.codec
	if codec == nil {
		codec = sharedCodec()
	}

	payload, err := codec.encode(slot)
	if err != nil {
		return err
	}

	var size [2]byte
	binary.BigEndian.PutUint16(size[:], uint16(len(payload)))
	if _, err := w.Write(size[:]); err != nil {
		return oops.With("slot", slot.Name).Wrapf(err, "writing slot payload size")
	}
	if _, err := w.Write(payload); err != nil {
		return oops.With("slot", slot.Name).Wrapf(err, "writing slot payload")
	}
	return nil
}

// EncodeAvailability writes a complete availability message.
func (e *Encoder) EncodeAvailability(w io.Writer, a Availability) error {
	e.codec = sharedCodec()
	defer func() { e.codec = nil }()

	if err := e.EncodeHeader(w, a.Date, len(a.Slots)); err != nil {
		return err
	}
	for _, slot := range a.Slots {
		if err := e.EncodeSlot(w, slot); err != nil {
			return err
		}
	}
	return nil
}
