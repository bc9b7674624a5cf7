package vectorstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/log"
)

// On-disk layout: chunks.json holds the metadata array, index.bin the
// row-major float32 matrix behind a small header. Both are written via
// temp-file rename so a crash never leaves a half-written file.
const (
	chunksFile = "chunks.json"
	indexFile  = "index.bin"

	indexMagic   = uint32(0x44515849) // "DQIX"
	indexVersion = uint32(1)
)

func (s *Store) chunksPath() string { return filepath.Join(s.dir, chunksFile) }
func (s *Store) indexPath() string  { return filepath.Join(s.dir, indexFile) }

func (s *Store) persistLocked() error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVectorStoreFailed, err)
	}

	if err := s.writeChunks(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVectorStoreFailed, err)
	}
	if err := s.writeIndex(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVectorStoreFailed, err)
	}
	return nil
}

func (s *Store) writeChunks() error {
	data, err := json.Marshal(s.meta)
	if err != nil {
		return err
	}
	return atomicWrite(s.chunksPath(), data)
}

func (s *Store) writeIndex() error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	for _, v := range []uint32{indexMagic, indexVersion, uint32(s.dimension), uint32(len(s.vectors))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, row := range s.vectors {
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return atomicWrite(s.indexPath(), buf.Bytes())
}

// load restores the snapshot pair. A missing pair means an empty store; a
// corrupt or mismatched pair is discarded with a warning rather than
// refusing to start.
func (s *Store) load() error {
	chunksData, chunksErr := os.ReadFile(s.chunksPath())
	indexData, indexErr := os.ReadFile(s.indexPath())

	if os.IsNotExist(chunksErr) && os.IsNotExist(indexErr) {
		return nil
	}
	if chunksErr != nil || indexErr != nil {
		log.Warnf("vector index snapshot incomplete, starting empty (chunks: %v, index: %v)", chunksErr, indexErr)
		return s.removePersisted()
	}

	var meta []domain.Chunk
	if err := json.Unmarshal(chunksData, &meta); err != nil {
		log.Warnf("corrupt chunk metadata, starting empty: %v", err)
		return s.removePersisted()
	}

	vectors, err := decodeIndex(indexData, s.dimension)
	if err != nil {
		log.Warnf("corrupt vector index, starting empty: %v", err)
		return s.removePersisted()
	}

	if len(vectors) != len(meta) {
		log.Warnf("vector index has %d rows but metadata has %d entries, starting empty", len(vectors), len(meta))
		return s.removePersisted()
	}

	for i := range meta {
		meta[i].VectorIndex = i
	}

	s.meta = meta
	s.vectors = vectors
	log.Infof("loaded vector index: %d chunks, dimension %d", len(meta), s.dimension)
	return nil
}

func decodeIndex(data []byte, wantDim int) ([][]float32, error) {
	r := bytes.NewReader(data)

	var header [4]uint32
	for i := range header {
		if err := binary.Read(r, binary.LittleEndian, &header[i]); err != nil {
			return nil, fmt.Errorf("short header: %w", err)
		}
	}
	magic, version, dim, rows := header[0], header[1], header[2], header[3]

	if magic != indexMagic {
		return nil, fmt.Errorf("bad magic %#x", magic)
	}
	if version != indexVersion {
		return nil, fmt.Errorf("unsupported version %d", version)
	}
	if int(dim) != wantDim {
		return nil, fmt.Errorf("index dimension %d does not match configured %d", dim, wantDim)
	}

	vectors := make([][]float32, 0, rows)
	for i := uint32(0); i < rows; i++ {
		row := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("truncated at row %d: %w", i, err)
		}
		vectors = append(vectors, row)
	}
	return vectors, nil
}

func (s *Store) removePersisted() error {
	if s.dir == "" {
		return nil
	}
	for _, path := range []string{s.chunksPath(), s.indexPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", domain.ErrVectorStoreFailed, err)
		}
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
