// Package metamodel is the strongly typed meta tree: skeleton description
// (object name, ordered maps, ordered programs, data-section variables,
// doc fields), exported struct descriptions, and poll tuning knobs. It is
// a pure deserializer: every optional field gets a documented default,
// every required field's absence is reported by name.
package metamodel

import (
	"encoding/json"
	"fmt"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
)

// Sample describes a map's periodic-snapshot configuration.
type Sample struct {
	IntervalMs int    `json:"interval_ms,omitempty"`
	Type       string `json:"type,omitempty"` // "log2_hist" | "linear_hist" | "" (kv)
	Unit       string `json:"unit,omitempty"`
	ClearMap   bool   `json:"clear_map"`
}

func defaultSample() Sample {
	return Sample{Unit: "(unit)", ClearMap: true}
}

// MapMeta describes one map entry.
type MapMeta struct {
	Name    string  `json:"name"`
	Ident   string  `json:"ident,omitempty"`
	Mmaped  bool    `json:"mmaped"`
	Sample  *Sample `json:"sample,omitempty"`
}

// TCHook describes traffic-control attach parameters for the reserved
// "tc" attach tag, read from a program's raw meta when present.
type TCHook struct {
	Ifindex     int    `json:"ifindex"`
	AttachPoint string `json:"attach_point"` // INGRESS | EGRESS | CUSTOM
}

// TCOpts describes traffic-control hook creation options.
type TCOpts struct {
	Handle   int `json:"handle"`
	Priority int `json:"priority"`
}

// ProgMeta describes one program entry.
type ProgMeta struct {
	Name   string `json:"name"`
	Attach string `json:"attach,omitempty"`
	Link   bool   `json:"link"`

	TCHook *TCHook `json:"tchook,omitempty"`
	TCOpts *TCOpts `json:"tcopts,omitempty"`
}

// CmdArg is the free-form CLI binding sub-record for a data-section
// variable.
type CmdArg struct {
	Short   string `json:"short,omitempty"`
	Long    string `json:"long,omitempty"`
	Help    string `json:"help,omitempty"`
	Default string `json:"default,omitempty"`
}

// Variable is one entry in a data section.
type Variable struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Size        int     `json:"size"`
	Offset      int     `json:"offset"`
	TypeID      int     `json:"type_id"`
	Description string  `json:"description,omitempty"`
	CmdArg      *CmdArg `json:"cmdarg,omitempty"`
	Value       string  `json:"value,omitempty"`
}

// DataSection is a named region (rodata, bss, ...) with ordered variables.
type DataSection struct {
	Name      string     `json:"name"`
	Variables []Variable `json:"variables"`
}

// ExportMember is one field of an export_types struct description.
type ExportMember struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExportType describes one struct the exporter should decode.
type ExportType struct {
	Name    string         `json:"name"`
	Size    int            `json:"size"`
	TypeID  int            `json:"type_id"`
	Members []ExportMember `json:"members"`
}

// Doc holds optional usage-string material.
type Doc struct {
	Version string `json:"version,omitempty"`
	Brief   string `json:"brief,omitempty"`
	Details string `json:"details,omitempty"`
}

// Tree is the full parsed meta document.
type Tree struct {
	ObjName      string        `json:"obj_name"`
	Maps         []MapMeta     `json:"maps"`
	Progs        []ProgMeta    `json:"progs"`
	DataSections []DataSection `json:"data_sections"`
	ExportTypes  []ExportType  `json:"export_types"`

	PerfBufferPages  int  `json:"perf_buffer_pages"`
	PerfBufferTimeMs int  `json:"perf_buffer_time_ms"`
	PollTimeoutMs    int  `json:"poll_timeout_ms"`
	PrintHeader      bool `json:"print_header"`
	DebugVerbose     bool `json:"debug_verbose"`

	Doc *Doc `json:"doc,omitempty"`
}

// Parse deserializes compact or pretty JSON meta text into a Tree,
// applying documented defaults to every optional field and reporting
// errs.MalformedMeta for a missing required field.
func Parse(metaJSON []byte) (*Tree, error) {
	var raw struct {
		ObjName          *string       `json:"obj_name"`
		Maps             []MapMeta     `json:"maps"`
		Progs            []ProgMeta    `json:"progs"`
		DataSections     []DataSection `json:"data_sections"`
		ExportTypes      []ExportType  `json:"export_types"`
		PerfBufferPages  *int          `json:"perf_buffer_pages"`
		PerfBufferTimeMs *int          `json:"perf_buffer_time_ms"`
		PollTimeoutMs    *int          `json:"poll_timeout_ms"`
		PrintHeader      *bool         `json:"print_header"`
		DebugVerbose     *bool         `json:"debug_verbose"`
		Doc              *Doc          `json:"doc"`
	}

	if err := json.Unmarshal(metaJSON, &raw); err != nil {
		return nil, errs.Wrap(errs.MalformedMeta, err, "meta document is not valid JSON")
	}

	if raw.ObjName == nil || *raw.ObjName == "" {
		return nil, errs.New(errs.MalformedMeta, "missing required field \"obj_name\"")
	}

	t := &Tree{
		ObjName:          *raw.ObjName,
		Maps:             raw.Maps,
		Progs:            raw.Progs,
		DataSections:     raw.DataSections,
		ExportTypes:      raw.ExportTypes,
		PerfBufferPages:  64,
		PerfBufferTimeMs: 10,
		PollTimeoutMs:    100,
		PrintHeader:      true,
		DebugVerbose:     false,
		Doc:              raw.Doc,
	}

	if raw.PerfBufferPages != nil {
		t.PerfBufferPages = *raw.PerfBufferPages
	}
	if raw.PerfBufferTimeMs != nil {
		t.PerfBufferTimeMs = *raw.PerfBufferTimeMs
	}
	if raw.PollTimeoutMs != nil {
		t.PollTimeoutMs = *raw.PollTimeoutMs
	}
	if raw.PrintHeader != nil {
		t.PrintHeader = *raw.PrintHeader
	}
	if raw.DebugVerbose != nil {
		t.DebugVerbose = *raw.DebugVerbose
	}

	var sampleFlags struct {
		Maps []struct {
			Sample *struct {
				ClearMap *bool `json:"clear_map"`
			} `json:"sample"`
		} `json:"maps"`
	}
	_ = json.Unmarshal(metaJSON, &sampleFlags)

	for i := range t.Maps {
		if t.Maps[i].Sample != nil {
			s := defaultSample()
			merged := *t.Maps[i].Sample
			if merged.Unit == "" {
				merged.Unit = s.Unit
			}
			if i < len(sampleFlags.Maps) && sampleFlags.Maps[i].Sample != nil && sampleFlags.Maps[i].Sample.ClearMap == nil {
				merged.ClearMap = s.ClearMap
			}
			t.Maps[i].Sample = &merged
		}
	}

	if err := t.validateUnique(); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Tree) validateUnique() error {
	seen := make(map[string]struct{}, len(t.Maps))
	for _, m := range t.Maps {
		if m.Name == "" {
			return errs.New(errs.MalformedMeta, "map entry missing required field \"name\"")
		}
		if _, dup := seen[m.Name]; dup {
			return errs.New(errs.MalformedMeta, "duplicate map name %q", m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}

// Marshal re-serializes the tree to compact JSON text, preserving field
// order declared on the struct (Go's encoding/json emits struct fields in
// declaration order).
func (t *Tree) Marshal() ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal meta tree: %w", err)
	}
	return b, nil
}

// FindVariable returns the data-section variable by name, searching all
// sections in order, and reports whether it was found.
func (t *Tree) FindVariable(name string) (*Variable, bool) {
	for si := range t.DataSections {
		for vi := range t.DataSections[si].Variables {
			if t.DataSections[si].Variables[vi].Name == name {
				return &t.DataSections[si].Variables[vi], true
			}
		}
	}
	return nil, false
}
