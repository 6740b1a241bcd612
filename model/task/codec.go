package task

import (
	"encoding/binary"

	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/fault"
)

const (
	// Version is the current record layout version.
	Version = 1
	// MaxInstructionsSize bounds the compiled instruction payload.
	MaxInstructionsSize = 10 * 1024
	// MaxDescriptionSize bounds the description field.
	MaxDescriptionSize = 255

	maxCronSize = 1<<16 - 1

	// version | queue | slot | tag | payload len | reward | queued at
	headerSize = 1 + address.Size + 2 + 1 + 4 + 8 + 8
)

const resource = "task-record"

// Encode serialises t into its persisted layout.
func Encode(t *Task) ([]byte, error) {
	if len(t.Instructions) > MaxInstructionsSize {
		return nil, fault.Newf(fault.KindMalformedRecord, "encode", resource, "instructions size %d exceeds %d", len(t.Instructions), MaxInstructionsSize)
	}
	if len(t.Description) > MaxDescriptionSize {
		return nil, fault.Newf(fault.KindMalformedRecord, "encode", resource, "description size %d exceeds %d", len(t.Description), MaxDescriptionSize)
	}
	if !t.Trigger.Kind.Known() {
		return nil, fault.Newf(fault.KindUnsupportedTrigger, "encode", resource, "tag %d", t.Trigger.Kind)
	}
	if t.Trigger.Kind == TriggerCron && len(t.Trigger.Cron) > maxCronSize {
		return nil, fault.Newf(fault.KindMalformedRecord, "encode", resource, "cron spec exceeds %d bytes", maxCronSize)
	}

	size := headerSize + triggerExtraSize(t.Trigger) + 1 + len(t.Description) + len(t.Instructions)
	buf := make([]byte, 0, size)
	buf = append(buf, Version)
	buf = append(buf, t.Queue[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, t.Slot)
	buf = append(buf, byte(t.Trigger.Kind))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Instructions)))
	buf = binary.LittleEndian.AppendUint64(buf, t.CrankReward)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(t.QueuedAt))
	switch t.Trigger.Kind {
	case TriggerTimestamp:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(t.Trigger.Timestamp))
	case TriggerCron:
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(t.Trigger.Cron)))
		buf = append(buf, t.Trigger.Cron...)
	}
	buf = append(buf, byte(len(t.Description)))
	buf = append(buf, t.Description...)
	buf = append(buf, t.Instructions...)
	return buf, nil
}

// Decode parses a persisted task record. The layout does not distinguish a
// nil payload from an empty one; both decode as nil Instructions.
func Decode(data []byte) (*Task, error) {
	if len(data) < headerSize {
		return nil, fault.Newf(fault.KindMalformedRecord, "decode", resource, "record too short: %d bytes", len(data))
	}
	if data[0] != Version {
		return nil, fault.Newf(fault.KindMalformedRecord, "decode", resource, "unsupported version %d", data[0])
	}
	ret := &Task{}
	offset := 1
	copy(ret.Queue[:], data[offset:offset+address.Size])
	offset += address.Size
	ret.Slot = binary.LittleEndian.Uint16(data[offset:])
	offset += 2
	kind := TriggerKind(data[offset])
	offset++
	if !kind.Known() {
		return nil, fault.Newf(fault.KindUnsupportedTrigger, "decode", resource, "tag %d", kind)
	}
	ret.Trigger.Kind = kind
	payloadLen := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	ret.CrankReward = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	ret.QueuedAt = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	rest := data[offset:]
	switch kind {
	case TriggerTimestamp:
		if len(rest) < 8 {
			return nil, truncated("timestamp")
		}
		ret.Trigger.Timestamp = int64(binary.LittleEndian.Uint64(rest))
		rest = rest[8:]
	case TriggerCron:
		if len(rest) < 2 {
			return nil, truncated("cron length")
		}
		n := int(binary.LittleEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < n {
			return nil, truncated("cron spec")
		}
		ret.Trigger.Cron = string(rest[:n])
		rest = rest[n:]
	}
	if len(rest) < 1 {
		return nil, truncated("description length")
	}
	n := int(rest[0])
	rest = rest[1:]
	if len(rest) < n {
		return nil, truncated("description")
	}
	ret.Description = string(rest[:n])
	rest = rest[n:]

	if len(rest) != payloadLen {
		return nil, fault.Newf(fault.KindMalformedRecord, "decode", resource, "declared payload length %d, actual %d", payloadLen, len(rest))
	}
	if payloadLen > 0 {
		ret.Instructions = append([]byte(nil), rest...)
	}
	return ret, nil
}

func triggerExtraSize(t Trigger) int {
	switch t.Kind {
	case TriggerTimestamp:
		return 8
	case TriggerCron:
		return 2 + len(t.Cron)
	}
	return 0
}

func truncated(field string) error {
	return fault.Newf(fault.KindMalformedRecord, "decode", resource, "truncated %s", field)
}
