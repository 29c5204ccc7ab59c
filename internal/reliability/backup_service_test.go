package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	testingpkg "github.com/aristath/rebalancer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects    map[string][]byte
	failUpload error
	failDelete map[string]error
	deleted    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, failDelete: map[string]error{}}
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader) error {
	if f.failUpload != nil {
		return f.failUpload
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]Object, error) {
	var objects []Object
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, Object{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	if err := f.failDelete[key]; err != nil {
		return err
	}
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	files := map[string][]byte{}
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = content
	}
	return files
}

func newBackupDatabases(t *testing.T) map[string]*database.DB {
	t.Helper()

	portfolioDB, cleanupPortfolio := testingpkg.NewTestDB(t, "portfolio")
	t.Cleanup(cleanupPortfolio)
	historyDB, cleanupHistory := testingpkg.NewTestDB(t, "history")
	t.Cleanup(cleanupHistory)

	_, err := portfolioDB.Conn().Exec(
		`INSERT INTO holdings (ticker, name, sector, quantity, purchase_price, purchase_date) VALUES ('AAPL', 'AAPL', 'Unclassified', 10, '100', 0)`,
	)
	require.NoError(t, err)

	return map[string]*database.DB{
		"portfolio": portfolioDB,
		"history":   historyDB,
	}
}

func TestBackupService_CreateAndUpload(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	store := newFakeStore()
	dataDir := t.TempDir()

	service := NewBackupService(store, newBackupDatabases(t), dataDir, "rebalancer", 0, log)
	service.SetClock(func() time.Time { return testingpkg.FixtureTime })

	key, err := service.CreateAndUpload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rebalancer-backup-2024-03-15-210000.tar.gz", key)
	require.Contains(t, store.objects, key)

	files := readArchive(t, store.objects[key])
	require.Contains(t, files, "portfolio.db")
	require.Contains(t, files, "history.db")
	require.Contains(t, files, metadataFilename)

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataFilename], &metadata))
	assert.True(t, metadata.Timestamp.Equal(testingpkg.FixtureTime))
	require.Len(t, metadata.Databases, 2)
	assert.Equal(t, "history", metadata.Databases[0].Name)
	assert.Equal(t, "portfolio", metadata.Databases[1].Name)

	for _, db := range metadata.Databases {
		content := files[db.Filename]
		assert.Equal(t, int64(len(content)), db.SizeBytes, db.Name)
		assert.Equal(t, fmt.Sprintf("sha256:%x", sha256.Sum256(content)), db.Checksum, db.Name)
	}

	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory should be removed")
}

func TestBackupService_CreateAndUpload_UploadFailure(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	store := newFakeStore()
	store.failUpload = errors.New("bucket unavailable")

	service := NewBackupService(store, newBackupDatabases(t), t.TempDir(), "rebalancer", 3, log)

	_, err := service.CreateAndUpload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
	assert.Empty(t, store.objects)
}

func TestBackupService_ListBackups(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	store := newFakeStore()
	store.objects["rebalancer-backup-2024-03-13-210000.tar.gz"] = []byte("a")
	store.objects["rebalancer-backup-2024-03-15-210000.tar.gz"] = []byte("bbb")
	store.objects["rebalancer-backup-2024-03-14-210000.tar.gz"] = []byte("cc")
	store.objects["rebalancer-backup-notes.txt"] = []byte("ignored")
	store.objects["other-backup-2024-03-15-210000.tar.gz"] = []byte("ignored")

	service := NewBackupService(store, nil, t.TempDir(), "rebalancer", 0, log)

	backups, err := service.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, "rebalancer-backup-2024-03-15-210000.tar.gz", backups[0].Key)
	assert.Equal(t, int64(3), backups[0].SizeBytes)
	assert.Equal(t, "rebalancer-backup-2024-03-14-210000.tar.gz", backups[1].Key)
	assert.Equal(t, "rebalancer-backup-2024-03-13-210000.tar.gz", backups[2].Key)
}

func TestBackupService_Prune(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	seed := func() *fakeStore {
		store := newFakeStore()
		for day := 10; day <= 14; day++ {
			store.objects[fmt.Sprintf("rebalancer-backup-2024-03-%02d-210000.tar.gz", day)] = []byte("x")
		}
		return store
	}

	t.Run("keeps newest archives up to retention", func(t *testing.T) {
		store := seed()
		service := NewBackupService(store, nil, t.TempDir(), "rebalancer", 2, log)

		require.NoError(t, service.Prune(context.Background()))
		assert.Len(t, store.objects, 2)
		assert.Contains(t, store.objects, "rebalancer-backup-2024-03-14-210000.tar.gz")
		assert.Contains(t, store.objects, "rebalancer-backup-2024-03-13-210000.tar.gz")
	})

	t.Run("zero retention keeps everything", func(t *testing.T) {
		store := seed()
		service := NewBackupService(store, nil, t.TempDir(), "rebalancer", 0, log)

		require.NoError(t, service.Prune(context.Background()))
		assert.Len(t, store.objects, 5)
		assert.Empty(t, store.deleted)
	})

	t.Run("failed delete does not stop rotation", func(t *testing.T) {
		store := seed()
		store.failDelete["rebalancer-backup-2024-03-11-210000.tar.gz"] = errors.New("denied")
		service := NewBackupService(store, nil, t.TempDir(), "rebalancer", 2, log)

		require.NoError(t, service.Prune(context.Background()))
		assert.ElementsMatch(t, []string{
			"rebalancer-backup-2024-03-12-210000.tar.gz",
			"rebalancer-backup-2024-03-10-210000.tar.gz",
		}, store.deleted)
	})
}

func TestBuildArchive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.db"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"ok":true}`), 0644))

	archivePath := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, BuildArchive(archivePath, dir, []string{"a.db", "b.json"}))

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	files := readArchive(t, data)
	assert.Equal(t, map[string][]byte{
		"a.db":   []byte("alpha"),
		"b.json": []byte(`{"ok":true}`),
	}, files)
}

func TestBuildArchive_MissingFile(t *testing.T) {
	dir := t.TempDir()
	err := BuildArchive(filepath.Join(dir, "out.tar.gz"), dir, []string{"missing.db"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.db")
}

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	checksum, err := FileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", checksum)
}
