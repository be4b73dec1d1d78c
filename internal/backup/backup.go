// Package backup creates and restores FleetWarden backup archives. An
// archive is a tar.gz holding a consistent snapshot of the SQLite
// database plus, optionally, the configuration file.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Backup writes a backup archive to archivePath. The database is
// snapshotted with VACUUM INTO so a live server can be backed up without
// stopping it. configPath may be empty.
func Backup(ctx context.Context, dbPath, configPath, archivePath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database file not found: %s", dbPath)
	}

	// Snapshot the database into a temp file. VACUUM INTO produces a
	// consistent copy even with WAL mode and active writers.
	tmpDir, err := os.MkdirTemp("", "fleetwarden-backup-*")
	if err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshotPath := filepath.Join(tmpDir, filepath.Base(dbPath))
	if err := snapshotDB(ctx, dbPath, snapshotPath); err != nil {
		return fmt.Errorf("snapshotting database: %w", err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	if err := addFile(tw, snapshotPath, filepath.Base(dbPath)); err != nil {
		return fmt.Errorf("archiving database: %w", err)
	}

	if configPath != "" {
		if err := addFile(tw, configPath, filepath.Base(configPath)); err != nil {
			return fmt.Errorf("archiving config: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finalizing compression: %w", err)
	}
	return out.Close()
}

// snapshotDB copies the database at srcPath to destPath via VACUUM INTO.
func snapshotDB(ctx context.Context, srcPath, destPath string) error {
	db, err := sql.Open("sqlite", srcPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "VACUUM INTO ?", destPath)
	return err
}

// addFile writes a single file into the tar archive under the given name.
func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
