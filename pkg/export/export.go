// Package export is the type-directed event exporter: given checked
// member layouts (from pkg/typeresolve) and raw kernel byte buffers, it
// renders plain-text columnar, JSON, or raw records, including the
// key/value sampling path and log2-histogram rendering.
package export

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cilium/ebpf/btf"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/metrics"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/typeresolve"
)

// Format selects the rendering mode.
type Format int

const (
	FormatPlain Format = iota
	FormatJSON
	FormatRaw
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatRaw:
		return "raw"
	default:
		return "plain"
	}
}

// Sink receives a rendered record's raw bytes alongside an opaque
// caller-supplied context, mirroring the ABI's (ctx, bytes, length)
// callback shape.
type Sink func(ctx any, data []byte)

// AuditSink optionally persists rendered records for offline replay —
// disabled by default; see pkg/export/audit.go.
type AuditSink interface {
	Append(format string, record []byte) error
}

// CheckedMember is a single struct member whose layout has been
// correlated between meta and the object's debug types.
type CheckedMember struct {
	Name          string
	PrintableType string
	Type          btf.Type
	BitOffset     uint32
	BitSize       uint32
	ByteSize      uint32
	ColumnStart   int
	ColumnWidth   int
}

// Exporter holds, per package, the checked layout vectors and rendering
// configuration.
type Exporter struct {
	Format      Format
	PrintHeader bool

	// Event path.
	EventMembers []CheckedMember

	// Sample path.
	KeyMembers    []CheckedMember
	ValueMembers  []CheckedMember
	SampleCfg     *metamodel.Sample

	sink  Sink
	ctx   any
	audit AuditSink

	headerEmitted bool
}

// SetSink installs the record callback; when nil, records are written to
// standard output.
func (e *Exporter) SetSink(ctx any, sink Sink) {
	e.ctx = ctx
	e.sink = sink
}

// SetAuditSink installs an optional persistence sink alongside the
// mandated stdout/callback routing.
func (e *Exporter) SetAuditSink(a AuditSink) {
	e.audit = a
}

// NewForEvent builds an Exporter for the ring-buffer/perf-array path.
// metaMembers is export_types[0].Members (0 or 1 struct is supported; a
// caller passing more than one is a warning logged by the poll
// supervisor, not by this constructor). It correlates each meta member,
// in order, against the object struct's members by name; unmatched meta
// members are skipped, and members using bitfield-coded offsets are
// excluded per §3's CheckedMember invariant (bit_offset % 8 == 0).
func NewForEvent(format Format, printHeader bool, resolver *typeresolve.Resolver, objStructID btf.TypeID, metaMembers []metamodel.ExportMember) (*Exporter, error) {
	objMembers, err := resolver.WalkStruct(objStructID)
	if err != nil {
		return nil, fmt.Errorf("walk event struct: %w", err)
	}

	byName := make(map[string]typeresolve.Member, len(objMembers))
	for _, m := range objMembers {
		byName[m.Name] = m
	}

	checked := make([]CheckedMember, 0, len(metaMembers))
	col := 0
	for _, mm := range metaMembers {
		om, ok := byName[mm.Name]
		if !ok {
			continue
		}
		if om.BitOffset%8 != 0 {
			continue // bitfield member: unsupported, flagged at check-time
		}
		byteSize := om.BitSize / 8
		width := columnWidth(mm.Name)
		checked = append(checked, CheckedMember{
			Name:          mm.Name,
			PrintableType: printableType(om.Type),
			Type:          om.Type,
			BitOffset:     om.BitOffset,
			BitSize:       om.BitSize,
			ByteSize:      byteSize,
			ColumnStart:   col,
			ColumnWidth:   width,
		})
		col += width + 2
	}

	if len(checked) == 0 {
		return nil, errs.New(errs.NoMatchingMembers, "no meta members correlate with object struct members")
	}

	return &Exporter{Format: format, PrintHeader: printHeader, EventMembers: checked}, nil
}

// NewForSample builds an Exporter for the periodic key/value sampling
// path. Key members are derived purely from the object's debug types;
// value members are derived from the object and re-labeled from meta
// when a struct member's printable type matches. keyType/valueType come
// straight from the map's CollectionSpec entry, no type-id lookup
// needed.
func NewForSample(format Format, printHeader bool, keyType, valueType btf.Type, sampleCfg *metamodel.Sample, valueMeta []metamodel.ExportMember) (*Exporter, error) {
	keyMembers, err := typeresolve.WalkStructType(keyType)
	if err != nil {
		return nil, fmt.Errorf("walk sample key struct: %w", err)
	}
	valMembers, err := typeresolve.WalkStructType(valueType)
	if err != nil {
		return nil, fmt.Errorf("walk sample value struct: %w", err)
	}

	metaByType := make(map[string]string, len(valueMeta))
	for _, m := range valueMeta {
		metaByType[m.Type] = m.Name
	}

	convert := func(members []typeresolve.Member) []CheckedMember {
		out := make([]CheckedMember, 0, len(members))
		col := 0
		for _, m := range members {
			if m.BitOffset%8 != 0 {
				continue
			}
			name := m.Name
			pt := printableType(m.Type)
			if relabel, ok := metaByType[pt]; ok {
				name = relabel
			}
			width := columnWidth(name)
			out = append(out, CheckedMember{
				Name:          name,
				PrintableType: pt,
				Type:          m.Type,
				BitOffset:     m.BitOffset,
				BitSize:       m.BitSize,
				ByteSize:      m.BitSize / 8,
				ColumnStart:   col,
				ColumnWidth:   width,
			})
			col += width + 2
		}
		return out
	}

	return &Exporter{
		Format:       format,
		PrintHeader:  printHeader,
		KeyMembers:   convert(keyMembers),
		ValueMembers: convert(valMembers),
		SampleCfg:    sampleCfg,
	}, nil
}

func columnWidth(name string) int {
	w := len(name)
	if w < 6 {
		w = 6
	}
	return w
}

func printableType(t btf.Type) string {
	if t == nil {
		return "(anon)"
	}
	return fmt.Sprintf("%s", t)
}

// Header builds the plain-text header row for the event path: "TIME     "
// followed by each member name uppercased, right-space-padded to its
// column width, two spaces between columns. Raw and JSON modes never
// emit a header.
func (e *Exporter) Header() string {
	if !e.PrintHeader || e.Format != FormatPlain || len(e.EventMembers) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("TIME     ")
	for _, m := range e.EventMembers {
		b.WriteString(padRight(strings.ToUpper(m.Name), m.ColumnWidth))
		b.WriteString("  ")
	}
	return b.String()
}

// EmitHeader writes the plain-text header row through the same sink or
// standard-output path used for records, once per exporter lifetime.
func (e *Exporter) EmitHeader() {
	if e.headerEmitted {
		return
	}
	h := e.Header()
	if h == "" {
		return
	}
	e.headerEmitted = true
	if e.sink != nil {
		e.sink(e.ctx, []byte(h))
		return
	}
	fmt.Println(h)
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// RenderEvent decodes and renders one event-path record from raw kernel
// bytes.
func (e *Exporter) RenderEvent(raw []byte) (string, error) {
	switch e.Format {
	case FormatRaw:
		e.emit(raw)
		return string(raw), nil
	case FormatJSON:
		obj := make(map[string]any, len(e.EventMembers))
		for _, m := range e.EventMembers {
			obj[m.Name] = jsonValue(raw, m)
		}
		b, err := json.Marshal(obj)
		if err != nil {
			return "", fmt.Errorf("marshal event record: %w", err)
		}
		e.emit(b)
		return string(b), nil
	default:
		var b strings.Builder
		b.WriteString(time.Now().Format("15:04:05"))
		b.WriteString(" ")
		for _, m := range e.EventMembers {
			b.WriteString(padRight(renderMember(raw, m), m.ColumnWidth))
			b.WriteString("  ")
		}
		rec := b.String()
		e.emit([]byte(rec))
		return rec, nil
	}
}

// RenderSample decodes and renders one sample-path record from raw key
// and value bytes, dispatching to the histogram renderer when the
// configured sample type calls for it.
func (e *Exporter) RenderSample(key, value []byte) (string, error) {
	if e.SampleCfg != nil && e.SampleCfg.Type == "log2_hist" {
		return e.renderHistogram(key, value)
	}

	switch e.Format {
	case FormatRaw:
		e.emit(value)
		return string(value), nil
	case FormatJSON:
		out := map[string]any{
			"key":   membersToJSON(key, e.KeyMembers),
			"value": membersToJSON(value, e.ValueMembers),
		}
		b, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("marshal sample record: %w", err)
		}
		e.emit(b)
		return string(b), nil
	default:
		var b strings.Builder
		b.WriteString(time.Now().Format("15:04:05"))
		b.WriteString(" ")
		for _, m := range e.KeyMembers {
			b.WriteString(padRight(renderMember(key, m), m.ColumnWidth))
			b.WriteString("  ")
		}
		for _, m := range e.ValueMembers {
			b.WriteString(padRight(renderMember(value, m), m.ColumnWidth))
			b.WriteString("  ")
		}
		rec := b.String()
		e.emit([]byte(rec))
		return rec, nil
	}
}

func membersToJSON(raw []byte, members []CheckedMember) map[string]any {
	obj := make(map[string]any, len(members))
	for _, m := range members {
		obj[m.Name] = jsonValue(raw, m)
	}
	return obj
}

func jsonValue(raw []byte, m CheckedMember) any {
	s := renderMember(raw, m)
	if m.PrintableType == "bool" {
		return s == "true"
	}
	if arr, ok := m.Type.(*btf.Array); ok && isCharElem(arr.Type) {
		return s
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return json.Number(s)
	}
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return json.Number(s)
	}
	return s
}

// renderMember prints one field using the object's own type information.
// char[N] prints as a length-bounded C string, bool prints true/false,
// every other kind is deferred to the generic byte-width printer. A
// printer error renders as the literal "<unknown>".
func renderMember(raw []byte, m CheckedMember) string {
	start := int(m.BitOffset / 8)
	size := int(m.ByteSize)
	if start < 0 || size <= 0 || start+size > len(raw) {
		return "<unknown>"
	}
	field := raw[start : start+size]

	if arr, ok := m.Type.(*btf.Array); ok {
		if isCharElem(arr.Type) {
			return cString(field)
		}
	}

	if i, ok := m.Type.(*btf.Int); ok {
		if i.Encoding&btf.Bool != 0 {
			return fmt.Sprintf("%t", field[0] != 0)
		}
		if i.Encoding&btf.Signed != 0 {
			return fmt.Sprintf("%d", decodeSigned(field))
		}
		return fmt.Sprintf("%d", decodeUnsigned(field))
	}

	return fmt.Sprintf("%d", decodeUnsigned(field))
}

func isCharElem(t btf.Type) bool {
	i, ok := t.(*btf.Int)
	return ok && i.Encoding&btf.Char != 0
}

func cString(field []byte) string {
	if i := indexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func decodeUnsigned(field []byte) uint64 {
	switch len(field) {
	case 1:
		return uint64(field[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(field))
	case 4:
		return uint64(binary.LittleEndian.Uint32(field))
	case 8:
		return binary.LittleEndian.Uint64(field)
	default:
		var v uint64
		for i := len(field) - 1; i >= 0; i-- {
			v = v<<8 | uint64(field[i])
		}
		return v
	}
}

func decodeSigned(field []byte) int64 {
	u := decodeUnsigned(field)
	switch len(field) {
	case 1:
		return int64(int8(u))
	case 2:
		return int64(int16(u))
	case 4:
		return int64(int32(u))
	default:
		return int64(u)
	}
}

// emit routes a rendered record to the installed sink, the optional
// audit sink, or standard output, and records the ambient metric.
func (e *Exporter) emit(data []byte) {
	metrics.ObserveExportRecord(e.Format.String())

	if e.audit != nil {
		_ = e.audit.Append(e.Format.String(), data)
	}

	if e.sink != nil {
		e.sink(e.ctx, data)
		return
	}

	fmt.Println(string(data))
}
