package ledger

import (
	"encoding/binary"
	"fmt"
)

// recordVersion is the distribution record encoding version.
const recordVersion = 1

// encodeRecord serializes a distribution record.
// Layout: u16 version, then length-prefixed round id and participant,
// u64 amount, u8 issued flag, length-prefixed receipt. All integers
// little-endian, strings prefixed with u32 length.
func encodeRecord(r *Record) []byte {
	buf := make([]byte, 0, 64)

	buf = binary.LittleEndian.AppendUint16(buf, recordVersion)
	buf = appendString(buf, r.RoundID)
	buf = appendString(buf, r.Participant)
	buf = binary.LittleEndian.AppendUint64(buf, r.Amount)

	if r.Issued {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = appendString(buf, r.Receipt)

	return buf
}

// decodeRecord deserializes a distribution record.
func decodeRecord(data []byte) (*Record, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("record too short: %d bytes", len(data))
	}

	version := binary.LittleEndian.Uint16(data[0:2])
	if version != recordVersion {
		return nil, fmt.Errorf("unsupported record version: %d", version)
	}

	offset := 2

	roundID, offset, err := readString(data, offset)
	if err != nil {
		return nil, err
	}

	participant, offset, err := readString(data, offset)
	if err != nil {
		return nil, err
	}

	if len(data) < offset+9 {
		return nil, fmt.Errorf("record truncated at amount")
	}

	amount := binary.LittleEndian.Uint64(data[offset : offset+8])
	issued := data[offset+8] == 1
	offset += 9

	receipt, offset, err := readString(data, offset)
	if err != nil {
		return nil, err
	}

	if offset != len(data) {
		return nil, fmt.Errorf("trailing bytes in record: %d unread", len(data)-offset)
	}

	return &Record{
		RoundID:     roundID,
		Participant: participant,
		Amount:      amount,
		Issued:      issued,
		Receipt:     receipt,
	}, nil
}

// appendString appends a u32 length prefix and the string bytes.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))

	return append(buf, s...)
}

// readString reads a u32-length-prefixed string at offset.
func readString(data []byte, offset int) (string, int, error) {
	if len(data) < offset+4 {
		return "", 0, fmt.Errorf("record truncated at string length")
	}

	n := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4

	if len(data) < offset+n {
		return "", 0, fmt.Errorf("record truncated at string body")
	}

	return string(data[offset : offset+n]), offset + n, nil
}
