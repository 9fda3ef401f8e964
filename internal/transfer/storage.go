// internal/transfer/storage.go
package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo describes one stored file.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Storage manages the uploads directory where received files are
// materialized and outbound files are read from. Files live under a
// per-client subdirectory.
type Storage struct {
	root string
}

// NewStorage creates a Storage rooted at the given uploads directory.
func NewStorage(root string) *Storage {
	return &Storage{root: root}
}

// sanitize strips path separators and traversal elements so a filename
// from the wire can never escape the uploads directory.
func sanitize(filename string) string {
	name := filepath.Base(filepath.Clean(filename))
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "." || name == ".." || name == "" {
		return "_"
	}
	return name
}

func (s *Storage) clientDir(clientID string) string {
	return filepath.Join(s.root, sanitize(clientID))
}

// Save materializes payload atomically under the client's directory and
// returns the final path.
func (s *Storage) Save(clientID, filename string, payload []byte) (string, error) {
	dir := s.clientDir(clientID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}

	path := filepath.Join(dir, sanitize(filename))
	tmp := path + ".part"
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename file: %w", err)
	}
	return path, nil
}

// Read returns the bytes of a stored file.
func (s *Storage) Read(clientID, filename string) ([]byte, error) {
	path := filepath.Join(s.clientDir(clientID), sanitize(filename))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", filename)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// List enumerates the client's stored files.
func (s *Storage) List(clientID string) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.clientDir(clientID))
	if err != nil {
		if os.IsNotExist(err) {
			return []FileInfo{}, nil
		}
		return nil, fmt.Errorf("list files: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	return files, nil
}

// Delete removes a stored file.
func (s *Storage) Delete(clientID, filename string) error {
	path := filepath.Join(s.clientDir(clientID), sanitize(filename))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", filename)
		}
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}
