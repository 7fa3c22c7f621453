package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/langchou/tesinvoice/internal/fsutil"
)

// Kind 凭证类型
type Kind string

const (
	KindAccess  Kind = "access_token"
	KindRefresh Kind = "refresh_token"
)

// ErrNoUsableCredential 外部配置和本地文件都拿不到可用凭证
var ErrNoUsableCredential = errors.New("no usable credential")

// Store 持有当前的 access/refresh token 及其本地文件
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger
	paths  map[Kind]string
	values map[Kind]string
}

// NewStore 创建凭证存储
func NewStore(accessPath, refreshPath string, logger *zap.Logger) *Store {
	return &Store{
		logger: logger,
		paths: map[Kind]string{
			KindAccess:  accessPath,
			KindRefresh: refreshPath,
		},
		values: make(map[Kind]string),
	}
}

// Get 当前权威值
func (s *Store) Get(kind Kind) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[kind]
}

// AccessToken 当前 access token
func (s *Store) AccessToken() string {
	return s.Get(KindAccess)
}

// RefreshToken 当前 refresh token
func (s *Store) RefreshToken() string {
	return s.Get(KindRefresh)
}

// Set 持久化并立即采用新值
func (s *Store) Set(kind Kind, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("set %s: %w", kind, errEmptyToken)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsutil.WriteFileAtomic(s.paths[kind], []byte(value), 0600); err != nil {
		return fmt.Errorf("persist %s: %w", kind, err)
	}
	s.values[kind] = value
	return nil
}

// Load 仅使用本地文件（没有外部配置源时）
func (s *Store) Load(kind Kind) (string, error) {
	value, _, err := readTokenFile(s.paths[kind])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", kind, err)
	}
	if value == "" {
		return "", fmt.Errorf("%s file %s is missing or empty: %w", kind, s.paths[kind], ErrNoUsableCredential)
	}

	s.mu.Lock()
	s.values[kind] = value
	s.mu.Unlock()
	return value, nil
}

// Reconcile 比较外部值与本地文件，iat 较大者胜出；无法解析的一方直接落败。
// 胜出值总会写回本地文件（文件不存在或内容不同）
func (s *Store) Reconcile(kind Kind, external string) (string, error) {
	path := s.paths[kind]
	external = strings.TrimSpace(external)

	persisted, exists, err := readTokenFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", kind, err)
	}

	extClaims, extErr := DecodeClaims(external)
	fileClaims, fileErr := DecodeClaims(persisted)

	var winner, source string
	switch {
	case extErr != nil && fileErr != nil:
		return "", fmt.Errorf("%s: external (%v), file (%v): %w", kind, extErr, fileErr, ErrNoUsableCredential)
	case extErr != nil:
		winner, source = persisted, "file"
		s.logger.Warn("External credential unusable, keeping persisted value",
			zap.String("kind", string(kind)), zap.Error(extErr))
	case fileErr != nil:
		winner, source = external, "external"
		if exists {
			s.logger.Warn("Persisted credential unusable, using external value",
				zap.String("kind", string(kind)), zap.Error(fileErr))
		}
	case extClaims.IssuedAt.After(fileClaims.IssuedAt):
		winner, source = external, "external"
	default:
		// 相同 iat 时保留本地值
		winner, source = persisted, "file"
	}

	if !exists || winner != persisted {
		if err := fsutil.WriteFileAtomic(path, []byte(winner), 0600); err != nil {
			return "", fmt.Errorf("persist %s: %w", kind, err)
		}
		s.logger.Info("Persisted reconciled credential",
			zap.String("kind", string(kind)), zap.String("path", path), zap.Bool("bootstrap", !exists))
	}

	s.mu.Lock()
	s.values[kind] = winner
	s.mu.Unlock()

	s.logger.Debug("Credential reconciled", zap.String("kind", string(kind)), zap.String("source", source))
	return winner, nil
}

// readTokenFile 读取并去除首尾空白；文件不存在不算错误
func readTokenFile(path string) (value string, exists bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}
