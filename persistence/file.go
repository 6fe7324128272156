package persistence

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/facegate/facematch/blobstore"
	"github.com/facegate/facematch/identity"
)

const (
	// snapshotMagic identifies facematch snapshot files (ASCII "FMS1").
	snapshotMagic = 0x464D5331
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	snapshotHeaderSize = 16
)

var (
	// ErrInvalidMagic is returned when a snapshot file has the wrong magic.
	ErrInvalidMagic = errors.New("persistence: invalid snapshot magic")

	// ErrInvalidVersion is returned for unsupported snapshot versions.
	ErrInvalidVersion = errors.New("persistence: unsupported snapshot version")
)

// ChecksumMismatchError is returned when snapshot checksum verification
// fails, which means the file was corrupted at rest.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("persistence: checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// FileOptions contains configuration options for the file backend.
type FileOptions struct {
	// Compression selects the snapshot payload compression.
	Compression Compression

	// Archive, when set, receives a copy of every written snapshot under
	// ArchiveName. Used to ship snapshots to object storage.
	Archive blobstore.Store

	// ArchiveName is the blob name snapshots are archived under.
	ArchiveName string
}

// DefaultFileOptions contains the default configuration options for the
// file backend.
var DefaultFileOptions = FileOptions{
	Compression: CompressionZstd,
	ArchiveName: "snapshots/latest.fm",
}

// File is a snapshot-based durable backend.
//
// Every mutation rewrites the full snapshot through a temp file and rename,
// so a crash leaves either the previous or the new snapshot, never a torn
// one. Galleries are small (thousands of identities, not billions), which
// makes whole-snapshot writes simpler and safer than an append journal.
type File struct {
	path string
	opts FileOptions

	mu      sync.Mutex
	records map[identity.ID]identity.Record
}

// Compile-time check to ensure File satisfies the Backend interface.
var _ Backend = (*File)(nil)

// NewFile opens or creates a file backend at the given path.
// An existing snapshot is loaded and verified.
func NewFile(path string, optFns ...func(o *FileOptions)) (*File, error) {
	opts := DefaultFileOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ArchiveName == "" {
		opts.ArchiveName = DefaultFileOptions.ArchiveName
	}

	f := &File{
		path:    path,
		opts:    opts,
		records: make(map[identity.ID]identity.Record),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}

	records, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		f.records[rec.ID] = rec
	}
	return f, nil
}

// WithCompression selects the snapshot payload compression.
func WithCompression(c Compression) func(o *FileOptions) {
	return func(o *FileOptions) { o.Compression = c }
}

// WithArchive ships every written snapshot to the given blob store.
func WithArchive(store blobstore.Store) func(o *FileOptions) {
	return func(o *FileOptions) { o.Archive = store }
}

// Save persists one record and rewrites the snapshot.
func (f *File) Save(ctx context.Context, rec identity.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.records[rec.ID]
	f.records[rec.ID] = rec.Clone()

	if err := f.writeSnapshotLocked(ctx); err != nil {
		// Roll the mirror back so memory and disk stay consistent.
		if existed {
			f.records[rec.ID] = prev
		} else {
			delete(f.records, rec.ID)
		}
		return err
	}
	return nil
}

// LoadAll returns every persisted record, ordered by ascending id.
func (f *File) LoadAll(ctx context.Context) ([]identity.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]identity.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Remove deletes the record with the given id and rewrites the snapshot.
// Removing a missing id is a no-op.
func (f *File) Remove(ctx context.Context, id identity.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.records[id]
	if !existed {
		return nil
	}
	delete(f.records, id)

	if err := f.writeSnapshotLocked(ctx); err != nil {
		f.records[id] = prev
		return err
	}
	return nil
}

// Close is a no-op: every mutation is already durable.
func (f *File) Close() error {
	return nil
}

func (f *File) writeSnapshotLocked(ctx context.Context) error {
	records := make([]identity.Record, 0, len(f.records))
	for _, rec := range f.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	data, err := encodeSnapshot(records, f.opts.Compression)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	// Archive before the rename: once the rename lands the mutation is
	// durable and must not be reported as failed, so anything that can still
	// abort the write has to happen while the previous snapshot is intact.
	if f.opts.Archive != nil {
		if err := f.opts.Archive.Put(ctx, f.opts.ArchiveName, data); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("persistence: archive snapshot: %w", err)
		}
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// encodeSnapshot serializes records into the snapshot wire format:
//
//	[magic u32][version u32][compression u8][pad 3][crc u32][payload block]
//
// The CRC covers the payload block as stored (after compression).
func encodeSnapshot(records []identity.Record, c Compression) ([]byte, error) {
	var payload bytes.Buffer

	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(len(records)))
	payload.Write(scratch[:])

	for _, rec := range records {
		if len(rec.Name) > math.MaxUint16 {
			return nil, fmt.Errorf("persistence: name too long: %d bytes", len(rec.Name))
		}

		binary.LittleEndian.PutUint64(scratch[:], uint64(rec.ID))
		payload.Write(scratch[:])
		binary.LittleEndian.PutUint64(scratch[:], uint64(rec.CreatedAt.UnixNano()))
		payload.Write(scratch[:])
		binary.LittleEndian.PutUint16(scratch[:2], uint16(len(rec.Name)))
		payload.Write(scratch[:2])
		payload.WriteString(rec.Name)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(rec.Embedding)))
		payload.Write(scratch[:4])
		for _, v := range rec.Embedding {
			binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(v))
			payload.Write(scratch[:4])
		}
	}

	block, err := compressPayload(payload.Bytes(), c)
	if err != nil {
		return nil, err
	}

	out := make([]byte, snapshotHeaderSize+len(block))
	binary.LittleEndian.PutUint32(out[0:], snapshotMagic)
	binary.LittleEndian.PutUint32(out[4:], snapshotVersion)
	out[8] = byte(c)
	binary.LittleEndian.PutUint32(out[12:], crc32.ChecksumIEEE(block))
	copy(out[snapshotHeaderSize:], block)
	return out, nil
}

// decodeSnapshot parses and verifies the snapshot wire format.
func decodeSnapshot(data []byte) ([]identity.Record, error) {
	if len(data) < snapshotHeaderSize {
		return nil, errors.New("persistence: snapshot too small for header")
	}

	if binary.LittleEndian.Uint32(data[0:]) != snapshotMagic {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[4:]) != snapshotVersion {
		return nil, ErrInvalidVersion
	}
	compression := Compression(data[8])
	expectedCRC := binary.LittleEndian.Uint32(data[12:])

	block := data[snapshotHeaderSize:]
	if actual := crc32.ChecksumIEEE(block); actual != expectedCRC {
		return nil, &ChecksumMismatchError{Expected: expectedCRC, Actual: actual}
	}

	payload, err := decompressPayload(block, compression)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(payload)
	readU64 := func() (uint64, error) {
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	}

	count, err := readU64()
	if err != nil {
		return nil, fmt.Errorf("persistence: read record count: %w", err)
	}

	records := make([]identity.Record, 0, count)
	for range count {
		id, err := readU64()
		if err != nil {
			return nil, fmt.Errorf("persistence: read id: %w", err)
		}
		createdAt, err := readU64()
		if err != nil {
			return nil, fmt.Errorf("persistence: read timestamp: %w", err)
		}

		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:2]); err != nil {
			return nil, fmt.Errorf("persistence: read name length: %w", err)
		}
		name := make([]byte, binary.LittleEndian.Uint16(lenBuf[:2]))
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("persistence: read name: %w", err)
		}

		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("persistence: read dimension: %w", err)
		}
		dim := binary.LittleEndian.Uint32(lenBuf[:])

		embedding := make([]float32, dim)
		for i := range embedding {
			if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
				return nil, fmt.Errorf("persistence: read embedding: %w", err)
			}
			embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(lenBuf[:]))
		}

		records = append(records, identity.Record{
			ID:        identity.ID(id),
			Name:      string(name),
			Embedding: embedding,
			CreatedAt: time.Unix(0, int64(createdAt)),
		})
	}

	return records, nil
}
