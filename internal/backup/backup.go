package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"loja/backend/internal/domain"
	"loja/backend/internal/store"
)

const (
	filePrefix = "backup_"
	fileSuffix = ".json"
	timeLayout = "2006-01-02_15-04-05"
)

// Source is the dataset a backup is taken from and restored into.
type Source interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	Restore(ctx context.Context, snapshot domain.Snapshot) error
}

type Manager struct {
	dir    string
	source Source
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(dir string, source Source, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{dir: dir, source: source, logger: logger.Named("backup"), now: time.Now}
}

// Create writes the full dataset to a new timestamped file and returns its description.
func (m *Manager) Create(ctx context.Context) (domain.BackupFile, error) {
	snapshot, err := m.source.Snapshot(ctx)
	if err != nil {
		return domain.BackupFile{}, fmt.Errorf("snapshot: %w", err)
	}
	body, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return domain.BackupFile{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return domain.BackupFile{}, fmt.Errorf("create backup dir: %w", err)
	}

	stamp := m.now().Format(timeLayout)
	name := filePrefix + stamp + fileSuffix
	for i := 1; fileExists(filepath.Join(m.dir, name)); i++ {
		name = fmt.Sprintf("%s%s_%d%s", filePrefix, stamp, i, fileSuffix)
	}

	path := filepath.Join(m.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return domain.BackupFile{}, fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return domain.BackupFile{}, fmt.Errorf("write backup: %w", err)
	}

	m.logger.Info("backup created",
		zap.String("file", name),
		zap.Int("products", len(snapshot.Products)),
		zap.Int("transactions", len(snapshot.Transactions)),
	)
	return describe(name, path)
}

// List returns the backup files in the directory, newest first.
func (m *Manager) List() ([]domain.BackupFile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.BackupFile{}, nil
		}
		return nil, err
	}

	files := make([]domain.BackupFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isBackupName(entry.Name()) {
			continue
		}
		file, err := describe(entry.Name(), filepath.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	slices.SortFunc(files, func(a, b domain.BackupFile) int {
		return strings.Compare(b.Name, a.Name)
	})
	return files, nil
}

// Restore replaces the whole dataset with the contents of the named backup.
func (m *Manager) Restore(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	body, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("backup %s: %w", name, store.ErrNotFound)
		}
		return err
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return store.Invalid("backup %s is not a valid snapshot", name)
	}
	if err := m.source.Restore(ctx, snapshot); err != nil {
		return err
	}

	m.logger.Info("backup restored",
		zap.String("file", name),
		zap.Time("snapshot_at", snapshot.CreatedAt),
	)
	return nil
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || !isBackupName(name) {
		return store.Invalid("invalid backup name %q", name)
	}
	return nil
}

func isBackupName(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

func describe(name string, path string) (domain.BackupFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.BackupFile{}, err
	}
	return domain.BackupFile{Name: name, SizeBytes: info.Size(), CreatedAt: info.ModTime().UTC()}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
