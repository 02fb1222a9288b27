// Package cas implements the content-addressed blob store: objects keyed by
// a truncated BLAKE3 hash, sharded on disk by the first two hex characters,
// with a JSON metadata sidecar per object.
package cas

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"
)

const hashHexLen = 32 // 16 bytes truncated from the full BLAKE3-256 digest

// Metadata is stored alongside every CAS object.
type Metadata struct {
	MimeType string `json:"mime_type"`
	Size     uint64 `json:"size"`
}

// Reference describes a stored object once inspected.
type Reference struct {
	Hash      string `json:"hash"`
	MimeType  string `json:"mime_type"`
	SizeBytes uint64 `json:"size_bytes"`
	LocalPath string `json:"local_path"`
}

// Store is a content-addressed object store rooted at a directory.
type Store struct {
	root       string
	objectsDir string
	metaDir    string
}

// New creates (if necessary) and returns a CAS rooted at dir.
func New(dir string) (*Store, error) {
	objectsDir := filepath.Join(dir, "objects")
	if err := os.MkdirAll(objectsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating CAS objects directory: %w", err)
	}
	metaDir := filepath.Join(dir, "metadata")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating CAS metadata directory: %w", err)
	}
	return &Store{root: dir, objectsDir: objectsDir, metaDir: metaDir}, nil
}

// Write stores data under its content hash and returns the 32-hex-char key.
// If the object already exists, the existing copy is kept (no rewrite) and
// the hash is returned — CAS writes are idempotent.
func (s *Store) Write(data []byte, mimeType string) (string, error) {
	sum := blake3.Sum256(data)
	hash := hex.EncodeToString(sum[:16])

	objDir, objFile := s.hashToObjectPath(hash)
	metaDir, metaFile := s.hashToMetadataPath(hash)

	if err := os.MkdirAll(objDir, 0o755); err != nil {
		return "", fmt.Errorf("creating object subdirectory: %w", err)
	}
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return "", fmt.Errorf("creating metadata subdirectory: %w", err)
	}

	objPath := filepath.Join(objDir, objFile)
	if _, err := os.Stat(objPath); os.IsNotExist(err) {
		if err := writeAtomic(objPath, data); err != nil {
			return "", fmt.Errorf("writing object file: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("statting object file: %w", err)
	}

	metaPath := filepath.Join(metaDir, metaFile)
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		meta := Metadata{MimeType: mimeType, Size: uint64(len(data))}
		body, err := json.Marshal(meta)
		if err != nil {
			return "", fmt.Errorf("serializing CAS metadata: %w", err)
		}
		if err := writeAtomic(metaPath, body); err != nil {
			return "", fmt.Errorf("writing metadata file: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("statting metadata file: %w", err)
	}

	return hash, nil
}

// Read returns the object's bytes, or (nil, false) if it is absent.
func (s *Store) Read(hash string) ([]byte, bool, error) {
	if err := validateHash(hash); err != nil {
		return nil, false, err
	}
	dir, file := s.hashToObjectPath(hash)
	path := filepath.Join(dir, file)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading object file: %w", err)
	}
	return data, true, nil
}

// GetPath returns the on-disk path for a hash, if present.
func (s *Store) GetPath(hash string) (string, bool, error) {
	if err := validateHash(hash); err != nil {
		return "", false, err
	}
	dir, file := s.hashToObjectPath(hash)
	path := filepath.Join(dir, file)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("statting object file: %w", err)
	}
	return path, true, nil
}

// Inspect returns the metadata-enriched reference for a hash, if present.
func (s *Store) Inspect(hash string) (*Reference, bool, error) {
	if err := validateHash(hash); err != nil {
		return nil, false, err
	}
	objDir, objFile := s.hashToObjectPath(hash)
	metaDir, metaFile := s.hashToMetadataPath(hash)
	objPath := filepath.Join(objDir, objFile)
	metaPath := filepath.Join(metaDir, metaFile)

	if _, err := os.Stat(objPath); os.IsNotExist(err) {
		return nil, false, nil
	}
	body, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading CAS metadata file: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, false, fmt.Errorf("deserializing CAS metadata: %w", err)
	}
	return &Reference{
		Hash:      hash,
		MimeType:  meta.MimeType,
		SizeBytes: meta.Size,
		LocalPath: objPath,
	}, true, nil
}

func (s *Store) hashToObjectPath(hash string) (dir, file string) {
	return filepath.Join(s.objectsDir, hash[:2]), hash[2:]
}

func (s *Store) hashToMetadataPath(hash string) (dir, file string) {
	return filepath.Join(s.metaDir, hash[:2]), hash[2:] + ".json"
}

func validateHash(hash string) error {
	if len(hash) != hashHexLen {
		return fmt.Errorf("invalid hash format: expected %d hex chars, got %d", hashHexLen, len(hash))
	}
	for _, c := range hash {
		if !isHexDigit(c) {
			return fmt.Errorf("invalid hash format: non-hex character %q", c)
		}
	}
	return nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// writeAtomic writes data to a temp file in the same directory as path then
// renames it into place, so concurrent readers never see a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
