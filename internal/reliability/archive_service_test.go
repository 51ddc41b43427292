package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qerplab/qerp/internal/events"
)

type fakeStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	deleted    []string
	failUpload error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	if f.failUpload != nil {
		return f.failUpload
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ObjectInfo
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, SizeBytes: int64(len(data))})
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return fmt.Errorf("no such object: %s", key)
	}
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for key := range f.objects {
		out = append(out, key)
	}
	return out
}

func (f *fakeStore) get(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

// writeArtifact drops a file into dir the way the results service exports
// run artifacts.
func writeArtifact(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644))
}

func untar(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		contents, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = contents
	}
	return files
}

func TestArchiveCreateAndUpload(t *testing.T) {
	store := newFakeStore()
	bus := events.NewBus(zerolog.Nop())
	artifactDir := t.TempDir()

	writeArtifact(t, artifactDir, "run-a.json", `{"energy": -1.137}`)
	writeArtifact(t, artifactDir, "run-b.json", `{"energy": -1.117}`)
	writeArtifact(t, artifactDir, "scratch.txt", "not an artifact")

	var created *events.Event
	bus.Subscribe(events.ArchiveCreated, func(e *events.Event) { created = e })

	svc := NewArchiveService(store, bus, artifactDir, t.TempDir(), 3, zerolog.Nop())
	require.NoError(t, svc.CreateAndUploadArchive(context.Background()))

	keys := store.keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "qerp-archive-"))
	assert.True(t, strings.HasSuffix(keys[0], ".tar.gz"))

	files := untar(t, store.get(keys[0]))
	require.Len(t, files, 3)
	assert.Equal(t, `{"energy": -1.137}`, string(files["run-a.json"]))
	assert.Equal(t, `{"energy": -1.117}`, string(files["run-b.json"]))

	var metadata ArchiveMetadata
	require.NoError(t, json.Unmarshal(files["archive-metadata.json"], &metadata))
	require.Len(t, metadata.Artifacts, 2, "non-JSON files must not be archived")
	assert.Equal(t, "run-a.json", metadata.Artifacts[0].Filename)
	assert.Equal(t, "run-b.json", metadata.Artifacts[1].Filename)
	for _, artifact := range metadata.Artifacts {
		assert.True(t, strings.HasPrefix(artifact.Checksum, "sha256:"))
		assert.Greater(t, artifact.SizeBytes, int64(0))
	}

	require.NotNil(t, created, "an upload must announce itself on the bus")
	assert.Equal(t, keys[0], created.Data["key"])
	assert.Equal(t, int64(len(store.get(keys[0]))), created.Data["size_bytes"])
	checksum, ok := created.Data["checksum"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(checksum, "sha256:"))
}

func TestArchiveSkipsEmptyArtifactDir(t *testing.T) {
	store := newFakeStore()
	bus := events.NewBus(zerolog.Nop())

	fired := false
	bus.Subscribe(events.ArchiveCreated, func(*events.Event) { fired = true })

	svc := NewArchiveService(store, bus, t.TempDir(), t.TempDir(), 3, zerolog.Nop())
	require.NoError(t, svc.CreateAndUploadArchive(context.Background()))

	assert.Empty(t, store.keys())
	assert.False(t, fired)
}

func TestArchiveToleratesMissingArtifactDir(t *testing.T) {
	store := newFakeStore()
	bus := events.NewBus(zerolog.Nop())
	artifactDir := filepath.Join(t.TempDir(), "never-created")

	svc := NewArchiveService(store, bus, artifactDir, t.TempDir(), 3, zerolog.Nop())
	require.NoError(t, svc.CreateAndUploadArchive(context.Background()))

	assert.Empty(t, store.keys())
}

func TestArchiveUploadFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	store.failUpload = fmt.Errorf("bucket gone")

	artifactDir := t.TempDir()
	writeArtifact(t, artifactDir, "run-a.json", `{"energy": -1.137}`)

	svc := NewArchiveService(store, events.NewBus(zerolog.Nop()), artifactDir, t.TempDir(), 3, zerolog.Nop())

	err := svc.CreateAndUploadArchive(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload archive")
}

func TestListArchivesNewestFirst(t *testing.T) {
	store := newFakeStore()
	store.objects["qerp-archive-2026-08-20-020000.tar.gz"] = []byte("old")
	store.objects["qerp-archive-2026-08-22-020000.tar.gz"] = []byte("newer")
	store.objects["qerp-archive-2026-08-21-020000.tar.gz"] = []byte("mid")
	store.objects["qerp-archive-garbage.tar.gz"] = []byte("unparseable")

	svc := NewArchiveService(store, events.NewBus(zerolog.Nop()), t.TempDir(), t.TempDir(), 3, zerolog.Nop())

	archives, err := svc.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, archives, 3, "names without a parseable timestamp are skipped")

	assert.Equal(t, "qerp-archive-2026-08-22-020000.tar.gz", archives[0].Key)
	assert.Equal(t, "qerp-archive-2026-08-21-020000.tar.gz", archives[1].Key)
	assert.Equal(t, "qerp-archive-2026-08-20-020000.tar.gz", archives[2].Key)
	assert.Equal(t, int64(len("newer")), archives[0].SizeBytes)
	assert.GreaterOrEqual(t, archives[2].AgeHours, archives[0].AgeHours)
}

func TestRotateArchivesKeepsNewest(t *testing.T) {
	store := newFakeStore()
	for day := 1; day <= 5; day++ {
		key := fmt.Sprintf("qerp-archive-2026-08-%02d-020000.tar.gz", day)
		store.objects[key] = []byte("archive")
	}

	svc := NewArchiveService(store, events.NewBus(zerolog.Nop()), t.TempDir(), t.TempDir(), 3, zerolog.Nop())
	require.NoError(t, svc.RotateArchives(context.Background()))

	assert.ElementsMatch(t, []string{
		"qerp-archive-2026-08-01-020000.tar.gz",
		"qerp-archive-2026-08-02-020000.tar.gz",
	}, store.deleted)

	remaining, err := svc.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, remaining, 3)
	assert.Equal(t, "qerp-archive-2026-08-05-020000.tar.gz", remaining[0].Key)
}

func TestRotateArchivesTooFewToRotate(t *testing.T) {
	store := newFakeStore()
	store.objects["qerp-archive-2026-08-01-020000.tar.gz"] = []byte("archive")
	store.objects["qerp-archive-2026-08-02-020000.tar.gz"] = []byte("archive")

	svc := NewArchiveService(store, events.NewBus(zerolog.Nop()), t.TempDir(), t.TempDir(), 3, zerolog.Nop())
	require.NoError(t, svc.RotateArchives(context.Background()))

	assert.Empty(t, store.deleted)
}
