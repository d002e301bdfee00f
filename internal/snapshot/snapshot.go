// Package snapshot persists a prepared dataset in a .ssjd file so later runs
// can skip loading and ranking.
//
// Layout: an 88-byte little-endian header, three JSON blocks (indexed records,
// foreign records, external ids) and a 16-byte footer carrying the CRC-32 of
// the blocks.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

const (
	MagicBytes    uint32 = 0x444A5353 // "SSJD"
	FormatVersion uint32 = 2
	HeaderSize    int    = 88
	FooterSize    int    = 16
)

// FlagForeignJoin marks a dataset prepared for a foreign join. The probe
// collection may still be empty.
const FlagForeignJoin uint32 = 1 << 0

// Header is the fixed-size start of every snapshot file.
type Header struct {
	Magic         uint32
	Version       uint32
	IndexedCount  uint32
	ForeignCount  uint32
	MaxToken      int64
	CreatedAt     int64
	IndexedOffset int64
	IndexedSize   int64
	ForeignOffset int64
	ForeignSize   int64
	IDsOffset     int64
	IDsSize       int64
	Flags         uint32
}

// Snapshot is a prepared dataset plus the external ids of its records.
type Snapshot struct {
	Dataset    dataset.Dataset
	IndexedIDs []int64
	ForeignIDs []int64
	// ForeignJoin is set when a foreign collection was configured, even an
	// empty one. Write also sets it whenever foreign records are present.
	ForeignJoin bool
	CreatedAt   time.Time
}

type idBlock struct {
	Indexed []int64 `json:"indexed,omitempty"`
	Foreign []int64 `json:"foreign,omitempty"`
}

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.IndexedCount)
	binary.LittleEndian.PutUint32(b[12:16], h.ForeignCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.MaxToken))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.IndexedOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.IndexedSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.ForeignOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.ForeignSize))
	binary.LittleEndian.PutUint64(b[64:72], uint64(h.IDsOffset))
	binary.LittleEndian.PutUint64(b[72:80], uint64(h.IDsSize))
	binary.LittleEndian.PutUint32(b[80:84], h.Flags)
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:         binary.LittleEndian.Uint32(b[0:4]),
		Version:       binary.LittleEndian.Uint32(b[4:8]),
		IndexedCount:  binary.LittleEndian.Uint32(b[8:12]),
		ForeignCount:  binary.LittleEndian.Uint32(b[12:16]),
		MaxToken:      int64(binary.LittleEndian.Uint64(b[16:24])),
		CreatedAt:     int64(binary.LittleEndian.Uint64(b[24:32])),
		IndexedOffset: int64(binary.LittleEndian.Uint64(b[32:40])),
		IndexedSize:   int64(binary.LittleEndian.Uint64(b[40:48])),
		ForeignOffset: int64(binary.LittleEndian.Uint64(b[48:56])),
		ForeignSize:   int64(binary.LittleEndian.Uint64(b[56:64])),
		IDsOffset:     int64(binary.LittleEndian.Uint64(b[64:72])),
		IDsSize:       int64(binary.LittleEndian.Uint64(b[72:80])),
		Flags:         binary.LittleEndian.Uint32(b[80:84]),
	}
}

// Write stores snap at path. It writes a .tmp sibling first and renames it
// into place, so readers never see a partial file.
func Write(path string, snap *Snapshot) error {
	indexedData, err := json.Marshal(snap.Dataset.Indexed)
	if err != nil {
		return fmt.Errorf("marshaling indexed records: %w", err)
	}
	foreignData, err := json.Marshal(snap.Dataset.Foreign)
	if err != nil {
		return fmt.Errorf("marshaling foreign records: %w", err)
	}
	idData, err := json.Marshal(idBlock{Indexed: snap.IndexedIDs, Foreign: snap.ForeignIDs})
	if err != nil {
		return fmt.Errorf("marshaling record ids: %w", err)
	}

	created := snap.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	h := Header{
		Magic:         MagicBytes,
		Version:       FormatVersion,
		IndexedCount:  uint32(len(snap.Dataset.Indexed)),
		ForeignCount:  uint32(len(snap.Dataset.Foreign)),
		MaxToken:      int64(snap.Dataset.MaxToken),
		CreatedAt:     created.Unix(),
		IndexedOffset: int64(HeaderSize),
		IndexedSize:   int64(len(indexedData)),
	}
	h.ForeignOffset = h.IndexedOffset + h.IndexedSize
	h.ForeignSize = int64(len(foreignData))
	h.IDsOffset = h.ForeignOffset + h.ForeignSize
	h.IDsSize = int64(len(idData))
	if snap.ForeignJoin || len(snap.Dataset.Foreign) > 0 {
		h.Flags |= FlagForeignJoin
	}

	crc := crc32.NewIEEE()
	crc.Write(indexedData)
	crc.Write(foreignData)
	crc.Write(idData)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint64(footer[8:16], uint64(h.IndexedSize+h.ForeignSize+h.IDsSize))

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer os.Remove(tmpPath)
	defer f.Close()

	for _, part := range [][]byte{h.encode(), indexedData, foreignData, idData, footer} {
		if _, err := f.Write(part); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	return nil
}

func corrupt(path, format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrSnapshotCorrupt, apperrors.ExitInput,
		"%s: %s", path, fmt.Sprintf(format, args...))
}

// Read loads and verifies the snapshot at path: magic, version, checksum and
// the record invariants the join relies on.
func Read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, corrupt(path, "file too short (%d bytes)", len(data))
	}
	h := decodeHeader(data[:HeaderSize])
	if h.Magic != MagicBytes {
		return nil, corrupt(path, "bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return nil, corrupt(path, "unsupported version %d", h.Version)
	}
	bodyEnd := int64(len(data) - FooterSize)
	if h.IndexedOffset != int64(HeaderSize) || h.IDsOffset+h.IDsSize != bodyEnd ||
		h.ForeignOffset != h.IndexedOffset+h.IndexedSize || h.IDsOffset != h.ForeignOffset+h.ForeignSize {
		return nil, corrupt(path, "block offsets do not match file size")
	}
	footer := data[bodyEnd:]
	body := data[HeaderSize:bodyEnd]
	if sum := crc32.ChecksumIEEE(body); sum != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, corrupt(path, "checksum mismatch")
	}

	snap := &Snapshot{
		Dataset:     dataset.Dataset{MaxToken: int(h.MaxToken)},
		ForeignJoin: h.Flags&FlagForeignJoin != 0,
		CreatedAt:   time.Unix(h.CreatedAt, 0),
	}
	if err := json.Unmarshal(data[h.IndexedOffset:h.ForeignOffset], &snap.Dataset.Indexed); err != nil {
		return nil, corrupt(path, "parsing indexed records: %v", err)
	}
	if err := json.Unmarshal(data[h.ForeignOffset:h.IDsOffset], &snap.Dataset.Foreign); err != nil {
		return nil, corrupt(path, "parsing foreign records: %v", err)
	}
	var ids idBlock
	if err := json.Unmarshal(data[h.IDsOffset:bodyEnd], &ids); err != nil {
		return nil, corrupt(path, "parsing record ids: %v", err)
	}
	snap.IndexedIDs, snap.ForeignIDs = ids.Indexed, ids.Foreign

	if err := validate(snap, h); err != nil {
		return nil, corrupt(path, "%v", err)
	}
	return snap, nil
}

// validate checks what the join assumes of a prepared dataset: counts match,
// tokens are strictly ascending, indexed records are sorted by length and no
// indexed token exceeds MaxToken.
func validate(snap *Snapshot, h Header) error {
	ds := snap.Dataset
	if len(ds.Indexed) != int(h.IndexedCount) || len(ds.Foreign) != int(h.ForeignCount) {
		return fmt.Errorf("record counts %d/%d, header says %d/%d",
			len(ds.Indexed), len(ds.Foreign), h.IndexedCount, h.ForeignCount)
	}
	if len(ds.Foreign) > 0 && !snap.ForeignJoin {
		return fmt.Errorf("%d foreign records in a self join snapshot", len(ds.Foreign))
	}
	if snap.IndexedIDs != nil && len(snap.IndexedIDs) != len(ds.Indexed) {
		return fmt.Errorf("%d indexed ids for %d records", len(snap.IndexedIDs), len(ds.Indexed))
	}
	if snap.ForeignIDs != nil && len(snap.ForeignIDs) != len(ds.Foreign) {
		return fmt.Errorf("%d foreign ids for %d records", len(snap.ForeignIDs), len(ds.Foreign))
	}
	for i, r := range ds.Indexed {
		if i > 0 && ds.Indexed[i-1].Len() > r.Len() {
			return fmt.Errorf("indexed record %d is out of length order", i)
		}
		if !strictlyAscending(r.Tokens) {
			return fmt.Errorf("indexed record %d tokens are not strictly ascending", i)
		}
		if n := r.Len(); n > 0 && int(r.Tokens[n-1]) > ds.MaxToken {
			return fmt.Errorf("indexed record %d has token %d above max %d", i, r.Tokens[n-1], ds.MaxToken)
		}
		if snap.IndexedIDs != nil && (r.ID < 0 || r.ID >= len(snap.IndexedIDs)) {
			return fmt.Errorf("indexed record %d has id %d out of range", i, r.ID)
		}
	}
	for i, r := range ds.Foreign {
		if !strictlyAscending(r.Tokens) {
			return fmt.Errorf("foreign record %d tokens are not strictly ascending", i)
		}
		if snap.ForeignIDs != nil && (r.ID < 0 || r.ID >= len(snap.ForeignIDs)) {
			return fmt.Errorf("foreign record %d has id %d out of range", i, r.ID)
		}
	}
	return nil
}

func strictlyAscending(tokens []dataset.Token) bool {
	return slices.IsSorted(tokens) && len(slices.Compact(slices.Clone(tokens))) == len(tokens)
}
