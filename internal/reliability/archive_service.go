// Package reliability archives exported run artifacts to S3-compatible
// object storage. Artifacts are bundled into tar.gz archives with per-file
// checksums, and old archives are rotated away once enough newer ones exist.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/events"
	"github.com/qerplab/qerp/internal/utils"
)

const (
	archivePrefix     = "qerp-archive-"
	archiveTimeLayout = "2006-01-02-150405"
	metadataFilename  = "archive-metadata.json"
)

// ArchiveService bundles exported run artifacts into tar.gz archives and
// uploads them to object storage.
type ArchiveService struct {
	store       ObjectStore
	bus         *events.Bus
	artifactDir string
	dataDir     string
	keepMin     int
	log         zerolog.Logger
}

// ArchiveMetadata describes the contents of one uploaded archive.
type ArchiveMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Artifacts []ArtifactMetadata `json:"artifacts"`
}

// ArtifactMetadata describes a single artifact inside an archive.
type ArtifactMetadata struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// ArchiveInfo summarizes one archive stored in the bucket.
type ArchiveInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewArchiveService creates an archive service. keepMin is the number of
// newest archives rotation always retains.
func NewArchiveService(
	store ObjectStore,
	bus *events.Bus,
	artifactDir string,
	dataDir string,
	keepMin int,
	log zerolog.Logger,
) *ArchiveService {
	if keepMin < 1 {
		keepMin = 1
	}
	return &ArchiveService{
		store:       store,
		bus:         bus,
		artifactDir: artifactDir,
		dataDir:     dataDir,
		keepMin:     keepMin,
		log:         log.With().Str("service", "archive").Logger(),
	}
}

// CreateAndUploadArchive bundles every exported result artifact into a
// tar.gz archive and uploads it. Nothing is uploaded when no artifacts
// exist yet.
func (s *ArchiveService) CreateAndUploadArchive(ctx context.Context) error {
	s.log.Info().Msg("Starting artifact archival")
	startTime := time.Now()

	artifacts, err := s.listArtifacts()
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		s.log.Info().Msg("No artifacts to archive")
		return nil
	}

	stagingDir := filepath.Join(s.dataDir, "archive-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := ArchiveMetadata{
		Timestamp: time.Now().UTC(),
		Artifacts: make([]ArtifactMetadata, 0, len(artifacts)),
	}

	for _, name := range artifacts {
		path := filepath.Join(s.artifactDir, name)

		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat artifact %s: %w", name, err)
		}

		checksum, err := s.fileChecksum(path)
		if err != nil {
			return fmt.Errorf("failed to checksum artifact %s: %w", name, err)
		}

		metadata.Artifacts = append(metadata.Artifacts, ArtifactMetadata{
			Filename:  name,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	metadataPath := filepath.Join(stagingDir, metadataFilename)
	if err := utils.SaveJSON(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write archive metadata: %w", err)
	}

	archiveName := fmt.Sprintf("%s%s.tar.gz", archivePrefix, time.Now().Format(archiveTimeLayout))
	archivePath := filepath.Join(stagingDir, archiveName)

	if err := s.createArchive(archivePath, artifacts, metadataPath); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveStat, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	checksum, err := s.fileChecksum(archivePath)
	if err != nil {
		return fmt.Errorf("failed to checksum archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.store.Upload(ctx, archiveName, archiveFile, archiveStat.Size()); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	s.bus.Emit(events.ArchiveCreated, "reliability", map[string]interface{}{
		"key":        archiveName,
		"size_bytes": archiveStat.Size(),
		"checksum":   checksum,
	})

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int("artifacts", len(artifacts)).
		Int64("size_bytes", archiveStat.Size()).
		Msg("Artifact archival completed")

	return nil
}

// ListArchives returns the archives in the bucket, newest first.
func (s *ArchiveService) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	archives := make([]ArchiveInfo, 0, len(objects))
	now := time.Now()

	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, archivePrefix) || !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}

		timestampStr := strings.TrimPrefix(obj.Key, archivePrefix)
		timestampStr = strings.TrimSuffix(timestampStr, ".tar.gz")

		timestamp, err := time.Parse(archiveTimeLayout, timestampStr)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from archive name")
			continue
		}

		archives = append(archives, ArchiveInfo{
			Key:       obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	// Sort by timestamp (newest first)
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})

	return archives, nil
}

// RotateArchives deletes all but the newest keepMin archives.
func (s *ArchiveService) RotateArchives(ctx context.Context) error {
	archives, err := s.ListArchives(ctx)
	if err != nil {
		return err
	}

	if len(archives) <= s.keepMin {
		s.log.Debug().Int("count", len(archives)).Msg("Too few archives to rotate")
		return nil
	}

	deleted := 0
	for _, archive := range archives[s.keepMin:] {
		if err := s.store.Delete(ctx, archive.Key); err != nil {
			s.log.Error().
				Err(err).
				Str("key", archive.Key).
				Msg("Failed to delete old archive")
			continue
		}

		s.log.Info().
			Str("key", archive.Key).
			Time("timestamp", archive.Timestamp).
			Msg("Deleted old archive")

		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(archives)-deleted).
		Msg("Archive rotation completed")

	return nil
}

// listArtifacts returns the exported JSON artifact filenames, sorted for a
// stable archive layout.
func (s *ArchiveService) listArtifacts() ([]string, error) {
	entries, err := os.ReadDir(s.artifactDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	return names, nil
}

// createArchive writes the artifacts plus the metadata file into a tar.gz
// archive at archivePath.
func (s *ArchiveService) createArchive(archivePath string, artifacts []string, metadataPath string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, name := range artifacts {
		if err := s.addFileToArchive(tarWriter, filepath.Join(s.artifactDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}

	if err := s.addFileToArchive(tarWriter, metadataPath, metadataFilename); err != nil {
		return fmt.Errorf("failed to add metadata to archive: %w", err)
	}

	return nil
}

// addFileToArchive adds a single file to a tar archive
func (s *ArchiveService) addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
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
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}

	return nil
}

// fileChecksum calculates the SHA256 checksum of a file
func (s *ArchiveService) fileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
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
