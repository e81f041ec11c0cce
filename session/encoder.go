package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// CurrentSchemaVersion is the first byte of every encoded session record.
const CurrentSchemaVersion = 1

const flagRevoked byte = 1 << 0

// ErrCorrupt is returned when a stored record cannot be decoded.
var ErrCorrupt = errors.New("session record corrupt")

// Encode serializes s as: version, length-prefixed id/account/tenant, refresh hash,
// big-endian generation and unix-nano timestamps, flags, revoke timestamp and reason.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(CurrentSchemaVersion)

	for _, field := range []struct {
		name, value string
	}{
		{"sessionID", s.ID},
		{"accountID", s.AccountID},
		{"tenantID", s.TenantID},
	} {
		if err := writeString(&buf, field.value); err != nil {
			return nil, fmt.Errorf("%s: %w", field.name, err)
		}
	}

	buf.Write(s.RefreshHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.Generation); err != nil {
		return nil, err
	}
	for _, ts := range []time.Time{s.CreatedAt, s.IssuedAt, s.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, unixNano(ts)); err != nil {
			return nil, err
		}
	}

	var flags byte
	if s.Revoked {
		flags |= flagRevoked
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, unixNano(s.RevokedAt)); err != nil {
		return nil, err
	}
	if err := writeString(&buf, string(s.RevokeReason)); err != nil {
		return nil, fmt.Errorf("revokeReason: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	s, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}

func decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	s := &Session{}
	for _, dst := range []*string{&s.ID, &s.AccountID, &s.TenantID} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}

	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.Generation); err != nil {
		return nil, err
	}
	for _, dst := range []*time.Time{&s.CreatedAt, &s.IssuedAt, &s.ExpiresAt} {
		var ns int64
		if err := binary.Read(reader, binary.BigEndian, &ns); err != nil {
			return nil, err
		}
		*dst = fromUnixNano(ns)
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Revoked = flags&flagRevoked != 0

	var revokedAt int64
	if err := binary.Read(reader, binary.BigEndian, &revokedAt); err != nil {
		return nil, err
	}
	s.RevokedAt = fromUnixNano(revokedAt)

	reason, err := readString(reader)
	if err != nil {
		return nil, err
	}
	s.RevokeReason = RevokeReason(reason)

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes")
	}
	if s.ID == "" || s.AccountID == "" {
		return nil, errors.New("missing identifiers")
	}
	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return errors.New("too long")
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

type refreshState byte

const (
	refreshCurrent  refreshState = 1
	refreshConsumed refreshState = 2
)

// refreshEntry is the value stored under a refresh-hash key.
type refreshEntry struct {
	SessionID string
	State     refreshState
}

func encodeRefreshEntry(e refreshEntry) []byte {
	out := make([]byte, 0, 1+len(e.SessionID))
	out = append(out, byte(e.State))
	return append(out, e.SessionID...)
}

func decodeRefreshEntry(data []byte) (refreshEntry, error) {
	if len(data) < 2 {
		return refreshEntry{}, ErrCorrupt
	}
	state := refreshState(data[0])
	if state != refreshCurrent && state != refreshConsumed {
		return refreshEntry{}, ErrCorrupt
	}
	return refreshEntry{SessionID: string(data[1:]), State: state}, nil
}

// encodeIDList length-prefixes each id behind a big-endian count.
func encodeIDList(ids []string) ([]byte, error) {
	if len(ids) > 0xFFFF {
		return nil, errors.New("session list too long")
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(ids))); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := writeString(&buf, id); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeIDList(data []byte) ([]string, error) {
	reader := bytes.NewReader(data)
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	ids := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		id, err := readString(reader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
