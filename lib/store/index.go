package store

import "fmt"

// IndexType is the value type a secondary index covers
type IndexType uint8

const (
	IndexNumeric IndexType = iota + 1 // Integer bins
	IndexString                       // String bins
)

func (t IndexType) String() string {
	switch t {
	case IndexNumeric:
		return "numeric"
	case IndexString:
		return "string"
	default:
		return "unknown"
	}
}

// ParseIndexType parses "numeric" or "string"
func ParseIndexType(s string) (IndexType, error) {
	switch s {
	case "numeric", "integer", "int":
		return IndexNumeric, nil
	case "string":
		return IndexString, nil
	}
	return 0, Errorf(ResultParameterError, "unknown index type %q", s)
}

// IndexSpec describes a secondary index on one bin of a set
type IndexSpec struct {
	Namespace string    `cbor:"1,keyasint"`
	Set       string    `cbor:"2,keyasint"`
	Bin       string    `cbor:"3,keyasint"`
	Name      string    `cbor:"4,keyasint"`
	Type      IndexType `cbor:"5,keyasint"`
}

// Validate checks that all mandatory fields are set
func (s IndexSpec) Validate() error {
	switch {
	case s.Namespace == "":
		return NewError(ResultParameterError, "index namespace must not be empty")
	case s.Bin == "":
		return NewError(ResultParameterError, "index bin must not be empty")
	case s.Name == "":
		return NewError(ResultParameterError, "index name must not be empty")
	case s.Type != IndexNumeric && s.Type != IndexString:
		return NewError(ResultParameterError, "index type must be numeric or string")
	}
	return nil
}

func (s IndexSpec) String() string {
	return fmt.Sprintf("%s on %s.%s(%s) %s", s.Name, s.Namespace, s.Set, s.Bin, s.Type)
}
