package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opsmend/opsmend/internal/metrics"
	"github.com/opsmend/opsmend/internal/models"
)

var (
	// ErrNoRollback is returned when rollback is requested for a patch that
	// was generated without inverse content.
	ErrNoRollback = errors.New("patch has no rollback content")
	// ErrPatchTooLarge is returned when a forward diff exceeds the
	// configured size limit.
	ErrPatchTooLarge = errors.New("patch exceeds size limit")
)

// Validator checks a target tree after a patch has been written. A non-nil
// error triggers restoration from backup.
type Validator interface {
	Validate(ctx context.Context, targetDir string, p *models.Patch) error
}

// FileMutator performs the actual file writes so tests can inject failures.
type FileMutator interface {
	WriteFile(path string, data []byte, perm os.FileMode) error
}

type osMutator struct{}

func (osMutator) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

// RevisionValidator verifies that every patched file now holds its expected
// content. It is the default validator.
type RevisionValidator struct{}

func (RevisionValidator) Validate(ctx context.Context, targetDir string, p *models.Patch) error {
	for _, rev := range p.Revisions {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(targetDir, filepath.FromSlash(rev.Path)))
		if err != nil {
			return fmt.Errorf("validate %s: %w", rev.Path, err)
		}
		if string(data) != rev.After {
			return fmt.Errorf("validate %s: content mismatch after apply", rev.Path)
		}
	}
	return nil
}

// Manager owns the apply/validate/rollback lifecycle. Concurrent operations
// against the same target directory are serialized; different targets
// proceed in parallel.
type Manager struct {
	logger        *slog.Logger
	backupRoot    string
	maxPatchBytes int
	applyTimeout  time.Duration
	validator     Validator
	mutator       FileMutator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithValidator overrides the post-apply validator.
func WithValidator(v Validator) ManagerOption {
	return func(m *Manager) {
		if v != nil {
			m.validator = v
		}
	}
}

// WithMutator overrides the file writer.
func WithMutator(w FileMutator) ManagerOption {
	return func(m *Manager) {
		if w != nil {
			m.mutator = w
		}
	}
}

// NewManager constructs a Manager. Backups are written under backupRoot,
// which must live outside any patch target. maxPatchSizeKB bounds the
// forward diff; zero disables the check.
func NewManager(logger *slog.Logger, backupRoot string, maxPatchSizeKB int, applyTimeout time.Duration, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:        logger,
		backupRoot:    backupRoot,
		maxPatchBytes: maxPatchSizeKB * 1024,
		applyTimeout:  applyTimeout,
		validator:     RevisionValidator{},
		mutator:       osMutator{},
		locks:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply writes a patch into targetDir. The target is backed up first; if any
// write or the post-apply validation fails, every touched file is restored
// to its pre-apply content and the result reports failure. The backup is
// retained either way.
func (m *Manager) Apply(ctx context.Context, p *models.Patch, targetDir string) *models.PatchResult {
	result := &models.PatchResult{PatchID: p.ID}

	if m.maxPatchBytes > 0 && len(p.ForwardContent) > m.maxPatchBytes {
		result.Errors = append(result.Errors,
			fmt.Sprintf("%v: %d bytes over %d", ErrPatchTooLarge, len(p.ForwardContent), m.maxPatchBytes))
		metrics.ObservePatchOperation("apply", false)
		return result
	}
	if len(p.Revisions) == 0 {
		result.Errors = append(result.Errors, "patch has no file revisions")
		metrics.ObservePatchOperation("apply", false)
		return result
	}

	lock := m.targetLock(targetDir)
	lock.Lock()
	defer lock.Unlock()

	if m.applyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.applyTimeout)
		defer cancel()
	}

	backupDir, err := m.backup(p, targetDir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("backup failed: %v", err))
		metrics.ObservePatchOperation("apply", false)
		return result
	}
	result.BackupDir = backupDir

	if err := m.writeRevisions(ctx, p, targetDir, false); err != nil {
		m.restore(p, targetDir, result)
		result.Errors = append(result.Errors, fmt.Sprintf("apply failed: %v", err))
		metrics.ObservePatchOperation("apply", false)
		return result
	}

	if err := m.validator.Validate(ctx, targetDir, p); err != nil {
		m.restore(p, targetDir, result)
		result.Errors = append(result.Errors, fmt.Sprintf("validation failed: %v", err))
		metrics.ObservePatchOperation("apply", false)
		return result
	}

	result.Success = true
	metrics.ObservePatchOperation("apply", true)
	m.logger.Info("patch applied",
		slog.String("patch_id", p.ID),
		slog.String("target", targetDir),
		slog.String("backup", backupDir))
	return result
}

// Rollback restores the pre-patch content of every file the patch touched.
func (m *Manager) Rollback(ctx context.Context, p *models.Patch, targetDir string) *models.PatchResult {
	result := &models.PatchResult{PatchID: p.ID}

	if p.InverseContent == "" || !p.Metadata.RollbackPossible {
		result.Errors = append(result.Errors, ErrNoRollback.Error())
		metrics.ObservePatchOperation("rollback", false)
		return result
	}

	lock := m.targetLock(targetDir)
	lock.Lock()
	defer lock.Unlock()

	backupDir, err := m.backup(p, targetDir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("backup failed: %v", err))
		metrics.ObservePatchOperation("rollback", false)
		return result
	}
	result.BackupDir = backupDir

	if err := m.writeRevisions(ctx, p, targetDir, true); err != nil {
		m.restoreFromBackup(p, targetDir, backupDir, result)
		result.Errors = append(result.Errors, fmt.Sprintf("rollback failed: %v", err))
		metrics.ObservePatchOperation("rollback", false)
		return result
	}

	result.Success = true
	metrics.ObservePatchOperation("rollback", true)
	m.logger.Info("patch rolled back",
		slog.String("patch_id", p.ID), slog.String("target", targetDir))
	return result
}

func (m *Manager) writeRevisions(ctx context.Context, p *models.Patch, targetDir string, inverse bool) error {
	for _, rev := range p.Revisions {
		if err := ctx.Err(); err != nil {
			return err
		}
		content := rev.After
		if inverse {
			content = rev.Before
		}
		path := filepath.Join(targetDir, filepath.FromSlash(rev.Path))
		if err := m.mutator.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rev.Path, err)
		}
	}
	return nil
}

// backup copies every file the patch will touch into a fresh directory under
// the backup root.
func (m *Manager) backup(p *models.Patch, targetDir string) (string, error) {
	backupDir := filepath.Join(m.backupRoot, fmt.Sprintf("%s_%d", p.ID, time.Now().UnixNano()))
	for _, rev := range p.Revisions {
		src := filepath.Join(targetDir, filepath.FromSlash(rev.Path))
		data, err := os.ReadFile(src)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", err
		}
		dst := filepath.Join(backupDir, filepath.FromSlash(rev.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return "", err
		}
	}
	return backupDir, nil
}

// restore writes back the pre-apply content after a failed apply. Restore
// errors are reported as warnings; the backup still holds the originals.
func (m *Manager) restore(p *models.Patch, targetDir string, result *models.PatchResult) {
	for _, rev := range p.Revisions {
		path := filepath.Join(targetDir, filepath.FromSlash(rev.Path))
		if err := os.WriteFile(path, []byte(rev.Before), 0o644); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("restore %s failed: %v (backup retained at %s)", rev.Path, err, result.BackupDir))
		}
	}
	m.logger.Warn("patch apply reverted", slog.String("patch_id", p.ID), slog.String("target", targetDir))
}

// restoreFromBackup writes back the pre-rollback content after a failed
// rollback so the target never stays half-reverted. Files absent from the
// backup did not exist beforehand and are left alone; restore errors become
// warnings since the backup still holds the originals.
func (m *Manager) restoreFromBackup(p *models.Patch, targetDir, backupDir string, result *models.PatchResult) {
	for _, rev := range p.Revisions {
		data, err := os.ReadFile(filepath.Join(backupDir, filepath.FromSlash(rev.Path)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("restore %s failed: %v (backup retained at %s)", rev.Path, err, backupDir))
			continue
		}
		path := filepath.Join(targetDir, filepath.FromSlash(rev.Path))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("restore %s failed: %v (backup retained at %s)", rev.Path, err, backupDir))
		}
	}
	m.logger.Warn("patch rollback reverted", slog.String("patch_id", p.ID), slog.String("target", targetDir))
}

func (m *Manager) targetLock(targetDir string) *sync.Mutex {
	key := filepath.Clean(targetDir)
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}
