package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const recordVersion1 = 1

// Session is the server-side session record bound to one issued token.
type Session struct {
	UserID    string
	Username  string
	CreatedAt int64
	ExpiresAt int64
}

func encodeSession(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	if len(s.UserID) > 65535 || len(s.Username) > 65535 {
		return nil, errors.New("session field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(s.UserID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Username))); err != nil {
		return nil, err
	}
	buf.WriteString(s.Username)

	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersion1 {
		return nil, errors.New("invalid session record version")
	}

	s := &Session{}
	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, err
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(reader, user); err != nil {
		return nil, err
	}
	s.UserID = string(user)

	var nameLen uint16
	if err := binary.Read(reader, binary.BigEndian, &nameLen); err != nil {
		return nil, err
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(reader, name); err != nil {
		return nil, err
	}
	s.Username = string(name)

	return s, nil
}
