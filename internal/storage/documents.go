package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/langchou/tesinvoice/internal/fsutil"
	"github.com/langchou/tesinvoice/internal/models"
)

// SidecarExt 通知状态文件的后缀
const SidecarExt = ".json"

// DocumentStore 本地发票目录
type DocumentStore struct {
	dir string
}

// NewDocumentStore 创建文档存储
func NewDocumentStore(dir string) *DocumentStore {
	return &DocumentStore{dir: dir}
}

// Dir 存储目录
func (s *DocumentStore) Dir() string {
	return s.dir
}

// Init 确保目录存在
func (s *DocumentStore) Init() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	return nil
}

// Path 文档路径，只由 key 决定
func (s *DocumentStore) Path(key models.DocumentKey) string {
	return filepath.Join(s.dir, key.FileName())
}

// Exists 文档是否已落盘
func (s *DocumentStore) Exists(key models.DocumentKey) (bool, error) {
	_, err := os.Stat(s.Path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat document: %w", err)
}

// Write 原子写入文档
func (s *DocumentStore) Write(key models.DocumentKey, data []byte) (string, error) {
	path := s.Path(key)
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return "", fmt.Errorf("write document %s: %w", path, err)
	}
	return path, nil
}

// List 列出所有文档（跳过 sidecar、隐藏文件与临时文件），按文件名排序
func (s *DocumentStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read document dir: %w", err)
	}

	var docs []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(name, ".") || fsutil.IsTemp(name) || strings.HasSuffix(name, SidecarExt) {
			continue
		}
		docs = append(docs, filepath.Join(s.dir, name))
	}
	return docs, nil
}

// SidecarPath 文档对应的 sidecar 路径
func SidecarPath(docPath string) string {
	return docPath + SidecarExt
}

// LoadSidecar 读取 sidecar；不存在时返回空记录
func (s *DocumentStore) LoadSidecar(docPath string) (*models.Sidecar, bool, error) {
	data, err := os.ReadFile(SidecarPath(docPath))
	if errors.Is(err, os.ErrNotExist) {
		return &models.Sidecar{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read sidecar: %w", err)
	}

	var sidecar models.Sidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, true, fmt.Errorf("decode sidecar %s: %w", SidecarPath(docPath), err)
	}
	return &sidecar, true, nil
}

// SaveSidecar 原子写入 sidecar
func (s *DocumentStore) SaveSidecar(docPath string, sidecar *models.Sidecar) error {
	data, err := json.Marshal(sidecar)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := fsutil.WriteFileAtomic(SidecarPath(docPath), data, 0644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}
