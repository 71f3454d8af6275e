package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const recordVersionV1 = 1

// ErrRecordCorrupt is returned when a stored session blob cannot be decoded.
var ErrRecordCorrupt = errors.New("session record corrupt")

// Record is one active device session for a user. A user may hold many
// records at once, one per device.
type Record struct {
	SessionID      string
	UserID         string
	CampusID       string
	DeviceType     string
	DeviceLabel    string
	OriginAddress  string
	CreatedAt      int64
	LastActivityAt int64
}

// Encode serializes a record into the compact versioned binary form stored
// in Redis. The SessionID is the storage key and is not part of the blob.
func Encode(rec *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.LastActivityAt); err != nil {
		return nil, err
	}

	for _, field := range []string{rec.UserID, rec.CampusID, rec.DeviceType, rec.DeviceLabel, rec.OriginAddress} {
		if len(field) > 65535 {
			return nil, errors.New("session record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrRecordCorrupt
	}
	if version != recordVersionV1 {
		return nil, ErrRecordCorrupt
	}

	rec := &Record{}
	if err := binary.Read(reader, binary.BigEndian, &rec.CreatedAt); err != nil {
		return nil, ErrRecordCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.LastActivityAt); err != nil {
		return nil, ErrRecordCorrupt
	}

	for _, field := range []*string{&rec.UserID, &rec.CampusID, &rec.DeviceType, &rec.DeviceLabel, &rec.OriginAddress} {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, ErrRecordCorrupt
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, ErrRecordCorrupt
		}
		*field = string(raw)
	}

	return rec, nil
}
