package unit

import "strings"

// Key identifies a unit by value. A key with an empty Name names the
// container (module or file) itself; otherwise it names a definition inside it.
type Key struct {
	Module string
	Name   string
}

// ContainerKey returns the key of the container that owns k.
func (k Key) ContainerKey() Key {
	return Key{Module: k.Module}
}

// IsContainer reports whether k names a container.
func (k Key) IsContainer() bool {
	return k.Name == ""
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool {
	return k.Module == "" && k.Name == ""
}

func (k Key) String() string {
	if k.Name == "" {
		return k.Module
	}
	return k.Module + "." + k.Name
}

// Compare orders keys by module path, then name.
func (k Key) Compare(other Key) int {
	if c := strings.Compare(k.Module, other.Module); c != 0 {
		return c
	}
	return strings.Compare(k.Name, other.Name)
}

// Kind distinguishes containers from leaves.
type Kind uint8

const (
	KindContainer Kind = iota
	KindLeaf
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindLeaf:
		return "leaf"
	default:
		return "unknown"
	}
}
