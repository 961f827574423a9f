package encrypt

import (
	"encoding/json"

	"golang.org/x/xerrors"
)

// Parameter is one input of a contract function.
type Parameter struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	InternalType string `json:"internalType"`
}

// Function is the description of a contract function as found in its ABI.
type Function struct {
	Type   string      `json:"type"`
	Name   string      `json:"name"`
	Inputs []Parameter `json:"inputs"`
}

// Schema holds the functions of a contract ABI by name. Unlike the
// go-ethereum ABI parser, it keeps the internal types of the parameters,
// which name the encrypted types.
type Schema struct {
	Functions map[string]Function
}

// ParseSchema reads the functions of a JSON contract ABI.
func ParseSchema(abiJSON string) (*Schema, error) {
	var entries []Function
	if err := json.Unmarshal([]byte(abiJSON), &entries); err != nil {
		return nil, xerrors.Errorf("decoding ABI: %v", err)
	}
	s := &Schema{Functions: make(map[string]Function)}
	for _, e := range entries {
		if e.Type != "function" && e.Type != "" {
			continue
		}
		s.Functions[e.Name] = e
	}
	return s, nil
}

// Function returns the function with the given name.
func (s *Schema) Function(name string) (Function, bool) {
	if s == nil {
		return Function{}, false
	}
	f, ok := s.Functions[name]
	return f, ok
}
