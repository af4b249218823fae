// Package recorder persists completed measurements: annotated JPEG images, the CSV
// log, and media housekeeping (dated sub-directories, retention, free space).
package recorder

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// subDirLayout is the date-time suffix of dated image sub-directories.
const subDirLayout = "20060102-1504"

// SubDir returns the directory new images should be written to. When both limits are
// disabled it returns base. Otherwise it returns the latest prefixed sub-directory of
// base, creating a new one named prefix+YYYYMMDD-HHMM when none exists or the latest is
// full. With both limits set, a new directory needs both the age and the file count
// exceeded.
func SubDir(base, prefix string, maxHours float64, maxFiles int, now time.Time) (string, error) {
	if maxHours <= 0 && maxFiles < 1 {
		return base, nil
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return base, fmt.Errorf("create image dir: %w", err)
	}

	latest, err := latestSubDir(base, prefix)
	if err != nil {
		return base, err
	}
	if latest == "" {
		log.Printf("No sub folders found in %s", base)
		return createSubDir(base, prefix, now)
	}

	var rotate bool
	switch {
	case maxHours > 0 && maxFiles < 1:
		rotate = subDirTooOld(latest, prefix, maxHours, now)
	case maxHours <= 0 && maxFiles > 0:
		rotate = subDirFull(latest, maxFiles)
	default:
		rotate = subDirTooOld(latest, prefix, maxHours, now) && subDirFull(latest, maxFiles)
	}
	if rotate {
		return createSubDir(base, prefix, now)
	}
	return latest, nil
}

func latestSubDir(base, prefix string) (string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("read image dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(base, names[len(names)-1]), nil
}

func createSubDir(base, prefix string, now time.Time) (string, error) {
	path := filepath.Join(base, prefix+now.Format(subDirLayout))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		log.Printf("Cannot create dir %s: %v, using default location", path, err)
		return base, nil
	}
	log.Printf("Created %s", path)
	return path, nil
}

// subDirTooOld reports whether the directory's name-encoded creation time is more than
// maxHours ago. Unparseable names count as old.
func subDirTooOld(dir, prefix string, maxHours float64, now time.Time) bool {
	stamp := strings.TrimPrefix(filepath.Base(dir), prefix)
	created, err := time.ParseInLocation(subDirLayout, stamp, now.Location())
	if err != nil {
		return true
	}
	age := now.Sub(created)
	if age.Hours() > maxHours {
		log.Printf("Sub folder %s is %s old, limit %.1f h", dir, age.Truncate(time.Minute), maxHours)
		return true
	}
	return false
}

func subDirFull(dir string, maxFiles int) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	if len(entries) > maxFiles {
		log.Printf("Total files in %s exceeds %d", dir, maxFiles)
		return true
	}
	return false
}

type fileAge struct {
	path    string
	modTime time.Time
	size    int64
}

func oldestFirst(files []fileAge) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})
}

// DeleteOldFiles removes the oldest files in dir whose names start with prefix until
// fewer than maxFiles remain. maxFiles < 1 disables the check.
func DeleteOldFiles(maxFiles int, dir, prefix string) (int, error) {
	if maxFiles < 1 {
		return 0, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*"))
	if err != nil {
		return 0, err
	}
	var files []fileAge
	for _, m := range matches {
		info, err := os.Lstat(m)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, fileAge{path: m, modTime: info.ModTime()})
	}
	oldestFirst(files)

	deleted := 0
	for len(files)-deleted >= maxFiles {
		if err := os.Remove(files[deleted].path); err != nil {
			log.Printf("Cannot remove %s: %v", files[deleted].path, err)
		}
		deleted++
	}
	return deleted, nil
}

// SaveRecent links filename into recentDir, keeping at most recentMax entries there.
// If the link cannot be created the file is copied instead.
func SaveRecent(recentMax int, recentDir, filename, prefix string) error {
	if recentMax < 1 {
		return nil
	}
	if err := os.MkdirAll(recentDir, 0o755); err != nil {
		return fmt.Errorf("create recent dir: %w", err)
	}
	if _, err := DeleteOldFiles(recentMax, recentDir, prefix); err != nil {
		return err
	}

	src, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	dest := filepath.Join(recentDir, filepath.Base(filename))
	err = os.Symlink(src, dest)
	if err == nil {
		return nil
	}
	log.Printf("symlink failed: %v", err)
	return copyFile(filename, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dest, err)
	}
	return out.Close()
}

// FreeBytesFunc reports the free space of the file system holding path.
type FreeBytesFunc func(path string) (uint64, error)

// StatfsFree returns the free bytes of the file system holding path.
func StatfsFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bfree) * uint64(st.Bsize), nil
}

// minFreeMB is the floor applied to the configured free space target.
const minFreeMB = 100

// FreeSpaceUpTo deletes the oldest files with extension ext under mediaDir until
// freeMB megabytes are free. At most a quarter of the candidates are deleted per call.
func FreeSpaceUpTo(freeMB float64, mediaDir, ext string, free FreeBytesFunc) (int, error) {
	info, err := os.Stat(mediaDir)
	if err != nil || !info.IsDir() {
		return 0, fmt.Errorf("media directory not found: %s", mediaDir)
	}
	if free == nil {
		free = StatfsFree
	}
	ext = "." + strings.TrimPrefix(ext, ".")
	target := uint64(freeMB * 1024 * 1024)

	var files []fileAge
	err = filepath.WalkDir(mediaDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileAge{path: path, modTime: fi.ModTime(), size: fi.Size()})
		return nil
	})
	if err != nil {
		return 0, err
	}
	oldestFirst(files)

	total := len(files)
	deleted := 0
	var reclaimed uint64
	for _, f := range files {
		avail, err := free(mediaDir)
		if err != nil {
			return deleted, fmt.Errorf("statfs %s: %w", mediaDir, err)
		}
		if avail >= target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			log.Printf("Del failed %s: %v", f.path, err)
			continue
		}
		deleted++
		reclaimed += uint64(f.size)
		log.Printf("Del %s  target=%s avail=%s deleted %d of %d files",
			f.path, humanize.IBytes(target), humanize.IBytes(avail), deleted, total)
		if deleted > total/4 {
			log.Printf("Max deletions reached %d of %d, restricted to 1/4 of files per session", deleted, total)
			break
		}
	}
	if deleted > 0 {
		log.Printf("Free space session ended, reclaimed %s", humanize.IBytes(reclaimed))
	}
	return deleted, nil
}

// Housekeeper runs FreeSpaceUpTo at most once per TimerHours.
type Housekeeper struct {
	TimerHours float64
	FreeMB     float64
	MediaDir   string
	Ext        string
	Free       FreeBytesFunc

	last time.Time
}

// Check frees disk space if the timer has elapsed since the last run. It reports
// whether a run happened.
func (h *Housekeeper) Check(now time.Time) (bool, error) {
	if h.TimerHours <= 0 {
		return false, nil
	}
	if h.last.IsZero() {
		h.last = now
		return false, nil
	}
	if now.Sub(h.last).Hours() <= h.TimerHours {
		return false, nil
	}
	h.last = now

	freeMB := h.FreeMB
	if freeMB < minFreeMB {
		freeMB = minFreeMB
	}
	log.Printf("Disk space check: timer=%.1fh free=%s dir=%s ext=%s",
		h.TimerHours, humanize.IBytes(uint64(freeMB*1024*1024)), h.MediaDir, h.Ext)
	_, err := FreeSpaceUpTo(freeMB, h.MediaDir, h.Ext, h.Free)
	return true, err
}
