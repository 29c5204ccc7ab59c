// Package reliability provides database backup and maintenance jobs.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/rs/zerolog"
)

const (
	metadataFilename  = "backup-metadata.json"
	archiveTimeLayout = "2006-01-02-150405"
	archiveSuffix     = ".tar.gz"
	metadataVersion   = "1"
)

// BackupService snapshots every database into a compressed archive and ships it to an object store
type BackupService struct {
	store     ObjectStore
	databases map[string]*database.DB
	dataDir   string
	prefix    string
	retention int
	now       func() time.Time
	log       zerolog.Logger
}

// BackupMetadata is the manifest stored next to the database copies
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one database copy inside an archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Checksum  string `json:"checksum"`
	SizeBytes int64  `json:"size_bytes"`
}

// BackupInfo is a stored archive as seen in the bucket
type BackupInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
}

// NewBackupService creates a backup service.
// retention is the number of archives kept after each upload; 0 keeps everything.
func NewBackupService(
	store ObjectStore,
	databases map[string]*database.DB,
	dataDir string,
	prefix string,
	retention int,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		store:     store,
		databases: databases,
		dataDir:   dataDir,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// SetClock overrides the time source used for archive names
func (s *BackupService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateAndUpload copies every database, archives the copies with a checksum manifest,
// uploads the archive and prunes old archives. It returns the uploaded object key.
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	s.log.Info().Msg("Starting backup")
	elapsed := utils.OperationTimer("backup", s.log)

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	timestamp := s.now().UTC()
	metadata, err := s.stageDatabases(ctx, stagingDir, timestamp)
	if err != nil {
		return "", err
	}

	files := make([]string, 0, len(metadata.Databases)+1)
	for _, db := range metadata.Databases {
		files = append(files, db.Filename)
	}
	files = append(files, metadataFilename)

	key := s.archiveKey(timestamp)
	archivePath := filepath.Join(stagingDir, filepath.Base(key))
	if err := BuildArchive(archivePath, stagingDir, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	info, err := archiveFile.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}

	if err := s.store.Upload(ctx, key, archiveFile); err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", elapsed()).
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Msg("Backup uploaded")

	if err := s.Prune(ctx); err != nil {
		// The new archive is already stored
		s.log.Error().Err(err).Msg("Failed to prune old backups")
	}

	return key, nil
}

// stageDatabases writes a VACUUM INTO copy of each database and collects its manifest entry
func (s *BackupService) stageDatabases(ctx context.Context, stagingDir string, timestamp time.Time) (BackupMetadata, error) {
	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	metadata := BackupMetadata{
		Timestamp: timestamp,
		Version:   metadataVersion,
		Databases: make([]DatabaseMetadata, 0, len(names)),
	}

	for _, name := range names {
		filename := name + ".db"
		dest := filepath.Join(stagingDir, filename)

		s.log.Debug().Str("database", name).Msg("Backing up database")

		if err := s.databases[name].VacuumInto(ctx, dest); err != nil {
			return BackupMetadata{}, fmt.Errorf("failed to backup %s: %w", name, err)
		}

		info, err := os.Stat(dest)
		if err != nil {
			return BackupMetadata{}, fmt.Errorf("failed to stat %s backup: %w", name, err)
		}

		checksum, err := FileChecksum(dest)
		if err != nil {
			return BackupMetadata{}, fmt.Errorf("failed to calculate checksum for %s: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	if err := writeMetadata(filepath.Join(stagingDir, metadataFilename), metadata); err != nil {
		return BackupMetadata{}, fmt.Errorf("failed to write metadata: %w", err)
	}

	return metadata, nil
}

// ListBackups returns the stored archives, newest first.
// Objects whose names do not carry an archive timestamp are ignored.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	namePrefix := s.archivePrefix()

	objects, err := s.store.List(ctx, namePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, namePrefix) || !strings.HasSuffix(obj.Key, archiveSuffix) {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, namePrefix), archiveSuffix)
		timestamp, err := time.Parse(archiveTimeLayout, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from backup name")
			continue
		}

		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.Size,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// Prune deletes archives beyond the retention count, oldest first.
// A failed delete is logged and the remaining archives are still processed.
func (s *BackupService) Prune(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= s.retention {
		return nil
	}

	deleted := 0
	for _, backup := range backups[s.retention:] {
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")

	return nil
}

func (s *BackupService) archivePrefix() string {
	return s.prefix + "-backup-"
}

func (s *BackupService) archiveKey(timestamp time.Time) string {
	return s.archivePrefix() + timestamp.Format(archiveTimeLayout) + archiveSuffix
}

// FileChecksum returns the sha256 of a file as "sha256:<hex>"
func FileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// BuildArchive writes a tar.gz at archivePath holding the named files from sourceDir
func BuildArchive(archivePath, sourceDir string, files []string) (err error) {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if closeErr := archiveFile.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, name := range files {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tarWriter, file)
	return err
}
