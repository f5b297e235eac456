package identity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	userRecordVersionV1     = 1
	identityRecordVersionV1 = 1
)

func encodeUser(u *User) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(userRecordVersionV1)
	if err := writeString(&buf, u.ID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, u.Status); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, u.CreatedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeUser(data []byte) (*User, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != userRecordVersionV1 {
		return nil, errors.New("unsupported user record version")
	}

	u := &User{}
	if u.ID, err = readString(reader); err != nil {
		return nil, err
	}
	if u.Status, err = readString(reader); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &u.CreatedAt); err != nil {
		return nil, err
	}

	return u, nil
}

func encodeIdentity(i *Identity) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(identityRecordVersionV1)
	for _, s := range []string{i.ID, i.UserID, i.Provider, i.Subject, i.Email, i.Phone} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, i.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, i.LastLoginAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeIdentity(data []byte) (*Identity, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != identityRecordVersionV1 {
		return nil, errors.New("unsupported identity record version")
	}

	i := &Identity{}
	for _, dst := range []*string{&i.ID, &i.UserID, &i.Provider, &i.Subject, &i.Email, &i.Phone} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}
	if err := binary.Read(reader, binary.BigEndian, &i.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &i.LastLoginAt); err != nil {
		return nil, err
	}

	return i, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("record field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
