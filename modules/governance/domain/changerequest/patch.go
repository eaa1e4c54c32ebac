package changerequest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
)

const OpReplace = "replace"

// Change is a proposed mutation exactly as submitted.
type Change struct {
	Path     string `json:"path"`
	RawValue string `json:"rawValue"`
}

// PatchOp is one canonical, typed field replacement. Path is the catalog path.
type PatchOp struct {
	Op    string        `json:"op"`
	Path  string        `json:"path"`
	Value catalog.Value `json:"value"`
}

type PatchDocument []PatchOp

func (p PatchDocument) Paths() []string {
	out := make([]string, len(p))
	for i, op := range p {
		out[i] = op.Path
	}
	return out
}

type DiffEntry struct {
	Path string
	From catalog.Value
	To   catalog.Value
}

// DisplayDiff is an ordered path -> {from, to} mapping. It serializes as a
// JSON object whose keys keep the diff order.
type DisplayDiff []DiffEntry

type fromTo struct {
	From catalog.Value `json:"from"`
	To   catalog.Value `json:"to"`
}

func (d DisplayDiff) Get(path string) (DiffEntry, bool) {
	for _, e := range d {
		if e.Path == path {
			return e, true
		}
	}
	return DiffEntry{}, false
}

func (d DisplayDiff) Paths() []string {
	out := make([]string, len(d))
	for i, e := range d {
		out[i] = e.Path
	}
	return out
}

func (d DisplayDiff) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Path)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(fromTo{From: e.From, To: e.To})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *DisplayDiff) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*d = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("changerequest: display diff must be an object")
	}
	out := DisplayDiff{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		path, ok := tok.(string)
		if !ok {
			return fmt.Errorf("changerequest: display diff key must be a string")
		}
		var ft fromTo
		if err := dec.Decode(&ft); err != nil {
			return fmt.Errorf("changerequest: display diff %q: %w", path, err)
		}
		out = append(out, DiffEntry{Path: path, From: ft.From, To: ft.To})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = out
	return nil
}
