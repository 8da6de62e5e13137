// Package pkgcodec implements the package envelope codec: base64-decode
// and zlib- or zstd-inflate the object blob, split out the meta document,
// and produce (object bytes, meta tree text). It also carries the
// additive content-ID, integrity-digest, and delta-package operations
// described in SPEC_FULL.md's domain stack.
package pkgcodec

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cbergoon/merkletree"
	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-multihash"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/metrics"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
)

// Decoded holds the two artifacts a package splits into.
type Decoded struct {
	ObjectBytes []byte
	MetaJSON    []byte
}

type envelope struct {
	BPFObject     string          `json:"bpf_object"`
	BPFObjectSize *int            `json:"bpf_object_size"`
	Meta          json.RawMessage `json:"meta"`
	Compression   string          `json:"compression,omitempty"`
}

// Open parses a package's on-disk/-wire text per §4.1: required keys
// bpf_object, bpf_object_size, meta. bpf_object is base64-decoded then
// inflated (zlib by default, zstd if declared) into a buffer sized
// bpf_object_size+256; the inflater's reported output length must not
// exceed that buffer, and the buffer is truncated to the reported
// length.
func Open(pkgText []byte) (*Decoded, error) {
	decoded, err := openEnvelope(pkgText)
	if err != nil {
		metrics.ObservePackageOpen("malformed")
		return nil, err
	}
	metrics.ObservePackageOpen("ok")
	return decoded, nil
}

func openEnvelope(pkgText []byte) (*Decoded, error) {
	var env envelope
	if err := json.Unmarshal(pkgText, &env); err != nil {
		return nil, errs.Wrap(errs.MalformedPackage, err, "package is not valid JSON")
	}
	if env.BPFObject == "" {
		return nil, errs.New(errs.MalformedPackage, "missing required field \"bpf_object\"")
	}
	if env.BPFObjectSize == nil || *env.BPFObjectSize < 0 {
		return nil, errs.New(errs.MalformedPackage, "missing or negative \"bpf_object_size\"")
	}
	if len(env.Meta) == 0 {
		return nil, errs.New(errs.MalformedPackage, "missing required field \"meta\"")
	}

	compressed, err := base64.StdEncoding.DecodeString(env.BPFObject)
	if err != nil {
		return nil, errs.Wrap(errs.MalformedPackage, err, "bpf_object is not valid base64")
	}

	objBytes, err := inflate(compressed, *env.BPFObjectSize, env.Compression)
	if err != nil {
		return nil, err
	}

	metaCompact, err := compactJSON(env.Meta)
	if err != nil {
		return nil, errs.Wrap(errs.MalformedPackage, err, "meta is not valid JSON")
	}

	return &Decoded{ObjectBytes: objBytes, MetaJSON: metaCompact}, nil
}

// OpenDirect accepts object bytes and meta text directly, skipping
// decode/inflate — used by integration tests and by embedding hosts
// that already have the object on disk.
func OpenDirect(objectBytes, metaText []byte) (*Decoded, error) {
	metaCompact, err := compactJSON(metaText)
	if err != nil {
		return nil, errs.Wrap(errs.MalformedMeta, err, "meta is not valid JSON")
	}
	return &Decoded{ObjectBytes: objectBytes, MetaJSON: metaCompact}, nil
}

func compactJSON(raw json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(compressed []byte, reportedSize int, compression string) ([]byte, error) {
	buf := make([]byte, reportedSize+256)

	var n int
	var err error
	switch compression {
	case "zstd":
		n, err = inflateZstd(compressed, buf)
	case "", "zlib":
		n, err = inflateZlib(compressed, buf)
	default:
		return nil, errs.New(errs.MalformedPackage, "unknown compression kind %q", compression)
	}
	if err != nil {
		return nil, errs.Wrap(errs.MalformedPackage, err, "failed to inflate bpf_object")
	}
	if n > len(buf) {
		return nil, errs.New(errs.MalformedPackage, "inflated length %d exceeds buffer of %d", n, len(buf))
	}
	return buf[:n], nil
}

func inflateZlib(compressed, buf []byte) (int, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var total int
	for {
		n, err := r.Read(buf[total:])
		total += n
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		if total >= len(buf) {
			return total, nil
		}
	}
}

func inflateZstd(compressed, buf []byte) (int, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	var total int
	for {
		n, err := dec.Read(buf[total:])
		total += n
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		if total >= len(buf) {
			return total, nil
		}
	}
}

// ContentID computes a multihash content identifier over decoded object
// bytes, used as the package cache key and surfaced by the verify
// subcommand.
func ContentID(objectBytes []byte) (string, error) {
	mh, err := multihash.Sum(objectBytes, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("compute content id: %w", err)
	}
	return mh.B58String(), nil
}

// digestLeaf adapts a string into merkletree.Content via its SHA-256 hash.
type digestLeaf struct{ s string }

func (l digestLeaf) CalculateHash() ([]byte, error) {
	mh, err := multihash.Sum([]byte(l.s), multihash.SHA2_256, -1)
	if err != nil {
		return nil, err
	}
	return mh, nil
}

func (l digestLeaf) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(digestLeaf)
	if !ok {
		return false, fmt.Errorf("type mismatch")
	}
	return l.s == o.s, nil
}

// IntegrityDigest computes a Merkle root over the package's content ID
// and the names of its meta tree's variables and exported members, so a
// caller can detect metadata edited without recompiling the object.
func IntegrityDigest(contentID string, leafStrings []string) (string, error) {
	leaves := make([]merkletree.Content, 0, len(leafStrings)+1)
	leaves = append(leaves, digestLeaf{s: contentID})
	for _, s := range leafStrings {
		leaves = append(leaves, digestLeaf{s: s})
	}

	tree, err := merkletree.NewTree(leaves)
	if err != nil {
		return "", fmt.Errorf("build integrity digest tree: %w", err)
	}
	return fmt.Sprintf("%x", tree.MerkleRoot()), nil
}

// ApplyDelta applies a bsdiff patch against a previously-opened base
// object, letting a distributor ship a small patch instead of a full
// recompressed object when iterating on data-section constants only.
func ApplyDelta(baseObject, patch []byte) ([]byte, error) {
	out, err := bspatch.Bytes(baseObject, patch)
	if err != nil {
		return nil, fmt.Errorf("apply delta package: %w", err)
	}
	return out, nil
}

// ComputeDelta is the producer-side counterpart to ApplyDelta, exposed
// for tests and tooling that construct delta packages.
func ComputeDelta(baseObject, newObject []byte) ([]byte, error) {
	patch, err := bsdiff.Bytes(baseObject, newObject)
	if err != nil {
		return nil, fmt.Errorf("compute delta package: %w", err)
	}
	return patch, nil
}
