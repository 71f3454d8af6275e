package otpcode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const recordVersionV1 = 1

// ErrRecordCorrupt is returned when a stored code blob cannot be decoded.
var ErrRecordCorrupt = errors.New("code record corrupt")

// Record is one pending one-time code. Only the SHA-256 of the code is
// stored; the plaintext exists solely in the delivery channel.
type Record struct {
	CodeHash  [32]byte
	Attempts  uint16
	ExpiresAt int64
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(rec.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != recordVersionV1 {
		return nil, ErrRecordCorrupt
	}

	rec := &Record{}
	if err := binary.Read(reader, binary.BigEndian, &rec.Attempts); err != nil {
		return nil, ErrRecordCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, ErrRecordCorrupt
	}
	if _, err := io.ReadFull(reader, rec.CodeHash[:]); err != nil {
		return nil, ErrRecordCorrupt
	}

	return rec, nil
}
