package contact

import (
	"errors"
	"fmt"
)

// ErrUnknownField is returned when a field name is not one of the fixed fields
var ErrUnknownField = errors.New("unknown field")

// Record is the extracted contact card. Every field is always present; a field
// that could not be extracted holds "".
type Record struct {
	SenderName          string `json:"senderName"`
	SenderPhoneNumber   string `json:"senderPhoneNumber"`
	ReceiverName        string `json:"receiverName"`
	ReceiverPhoneNumber string `json:"receiverPhoneNumber"`
	ReceiverAddress     string `json:"receiverAddress"`
}

// NewRecord returns an empty record
func NewRecord() Record {
	return Record{}
}

func (r *Record) field(name FieldName) (*string, error) {
	switch name {
	case SenderName:
		return &r.SenderName, nil
	case SenderPhoneNumber:
		return &r.SenderPhoneNumber, nil
	case ReceiverName:
		return &r.ReceiverName, nil
	case ReceiverPhoneNumber:
		return &r.ReceiverPhoneNumber, nil
	case ReceiverAddress:
		return &r.ReceiverAddress, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// Get returns the value of a field
func (r Record) Get(name FieldName) (string, error) {
	p, err := r.field(name)
	if err != nil {
		return "", err
	}
	return *p, nil
}

// Set replaces the value of a field
func (r *Record) Set(name FieldName, value string) error {
	p, err := r.field(name)
	if err != nil {
		return err
	}
	*p = value
	return nil
}

// Values returns the field values in column order
func (r Record) Values() []string {
	values := make([]string, 0, len(fields))
	for _, f := range fields {
		v, _ := r.Get(f.Name)
		values = append(values, v)
	}
	return values
}

// Map returns the record keyed by field name
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		v, _ := r.Get(f.Name)
		m[string(f.Name)] = v
	}
	return m
}

// IsEmpty reports whether no field holds a value
func (r Record) IsEmpty() bool {
	return r == Record{}
}
