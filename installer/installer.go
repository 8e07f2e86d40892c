package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steed-rs/ngdp/blte"
	"github.com/steed-rs/ngdp/casc"
	"github.com/steed-rs/ngdp/casc/idx"
	"github.com/steed-rs/ngdp/casc/shmem"
	"github.com/steed-rs/ngdp/espec"
	"github.com/steed-rs/ngdp/internal/ckey"
	"github.com/steed-rs/ngdp/metrics"
)

// Installer commits fetched content into a CASC data directory: reserving
// space, writing the framed block, and updating the archive index and
// free-space ledger. All writes for one file happen in the phase order
// recorded in FileState, so a crash can resume at the right step instead
// of silently corrupting an archive or double-counting free space.
type Installer struct {
	DataDir string

	mu      sync.Mutex
	shmem   *shmem.Shmem
	buckets [idx.NumBuckets]*idx.File
	archives map[uint32]*os.File

	session *SessionState
}

// Open loads the shmem ledger and idx buckets from dataDir, creating them
// fresh if absent (a brand-new install).
func Open(dataDir string, session *SessionState) (*Installer, error) {
	in := &Installer{
		DataDir:  dataDir,
		archives: make(map[uint32]*os.File),
		session:  session,
	}

	shmemPath := filepath.Join(dataDir, "data", "shmem")
	if data, err := os.ReadFile(shmemPath); err == nil {
		s, err := shmem.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("installer: parse shmem: %w", err)
		}
		in.shmem = s
	} else if os.IsNotExist(err) {
		in.shmem = shmem.New()
	} else {
		return nil, fmt.Errorf("installer: read shmem: %w", err)
	}

	for b := 0; b < idx.NumBuckets; b++ {
		path := filepath.Join(dataDir, "data", fmt.Sprintf("%02x.idx", b))
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				in.buckets[b] = &idx.File{Header: idx.Header{Bucket: uint8(b)}}
				continue
			}
			return nil, fmt.Errorf("installer: read bucket %02x: %w", b, err)
		}
		f, err := idx.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("installer: parse bucket %02x: %w", b, err)
		}
		in.buckets[b] = f
	}

	return in, nil
}

// Close flushes the shmem ledger and every modified idx bucket, and
// closes open archive handles.
func (in *Installer) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	shmemData, err := shmem.Write(in.shmem)
	if err != nil {
		return fmt.Errorf("installer: serialize shmem: %w", err)
	}
	if err := os.WriteFile(filepath.Join(in.DataDir, "data", "shmem"), shmemData, 0o644); err != nil {
		return fmt.Errorf("installer: write shmem: %w", err)
	}
	for b, f := range in.buckets {
		data, err := idx.Write(f)
		if err != nil {
			return fmt.Errorf("installer: serialize bucket %02x: %w", b, err)
		}
		path := filepath.Join(in.DataDir, "data", fmt.Sprintf("%02x.idx", b))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("installer: write bucket %02x: %w", b, err)
		}
		metrics.BucketRewrites.WithLabelValues(fmt.Sprintf("%02x", b)).Inc()
	}
	var firstErr error
	for _, f := range in.archives {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

const currentArchiveNumber = 0 // TODO: rotate once an archive exceeds a size cap

func (in *Installer) archiveFile(number uint32) (*os.File, error) {
	if f, ok := in.archives[number]; ok {
		return f, nil
	}
	path := filepath.Join(in.DataDir, "data", fmt.Sprintf("data.%03d", number))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	in.archives[number] = f
	return f, nil
}

// Commit installs one already-validated, already-BLTE-encoded blob under
// ekey, resuming from whatever phase its FileState says it's at.
func (in *Installer) Commit(ek ckey.EncodingKey, encoded []byte, spec espec.Spec) error {
	start := time.Now()
	fs := in.session.FileState(ek)
	defer func() {
		metrics.CommitDuration.WithLabelValues(string(fs.Phase)).Observe(time.Since(start).Seconds())
	}()

	if phaseIndex(fs.Phase) < phaseIndex(PhaseBlteValidated) {
		if _, err := blte.Decode(encoded, blte.DecodeOptions{}); err != nil {
			return fmt.Errorf("installer: validate blte for %s: %w", ek, err)
		}
		if err := fs.Advance(PhaseBlteValidated); err != nil {
			return err
		}
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if phaseIndex(fs.Phase) < phaseIndex(PhaseHeaderWritten) {
		totalSize := uint32(casc.FileHeaderSize + len(encoded))

		archiveFileInfo, err := in.archiveFile(currentArchiveNumber)
		if err != nil {
			return fmt.Errorf("installer: open archive: %w", err)
		}
		stat, err := archiveFileInfo.Stat()
		if err != nil {
			return err
		}
		archiveNumber, offset := in.shmem.ReserveBytes(uint64(totalSize), currentArchiveNumber, uint64(stat.Size()))

		header := casc.WriteFileHeader(ek, totalSize, uint16(archiveNumber), uint32(offset))
		frame := append(header, encoded...)
		if _, err := archiveFileInfo.WriteAt(frame, int64(offset)); err != nil {
			return fmt.Errorf("installer: write archive: %w", err)
		}

		fs.ArchiveNumber = archiveNumber
		fs.Offset = offset
		fs.Size = uint32(len(frame))
		if err := fs.Advance(PhaseHeaderWritten); err != nil {
			return err
		}
	}

	if phaseIndex(fs.Phase) < phaseIndex(PhaseIndexInserted) {
		short := ek.Short()
		bucket := idx.Bucket(short)
		in.buckets[bucket].Entries = append(in.buckets[bucket].Entries, idx.Entry{
			Key:          short,
			ArchiveIndex: uint16(fs.ArchiveNumber),
			Offset:       uint32(fs.Offset),
			Size:         fs.Size,
		})
		if err := fs.Advance(PhaseIndexInserted); err != nil {
			return err
		}
	}

	return fs.Advance(PhaseCommitted)
}
