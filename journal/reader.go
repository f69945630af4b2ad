// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// CloseInterceptor is the hook by which a Reader's Close is redirected to a
// pool rather than freeing the underlying mmap. It mirrors the single-method
// shape of the original's JournalCloseInterceptor.
type CloseInterceptor interface {
	CanClose(r *Reader) bool
}

// partitionFile is one memory-mapped data file making up a journal.
type partitionFile struct {
	path string
	file *os.File
	data []byte
}

// symbolTable maps a column's distinct string values to stable integer ids,
// the way a real time-series journal avoids repeating tag strings on disk.
type symbolTable struct {
	toID   map[string]uint32
	toText []string
}

func newSymbolTable() *symbolTable {
	return &symbolTable{toID: make(map[string]uint32)}
}

func (s *symbolTable) intern(v string) uint32 {
	if id, ok := s.toID[v]; ok {
		return id
	}
	id := uint32(len(s.toText))
	s.toID[v] = id
	s.toText = append(s.toText, v)
	return id
}

// Reader is a read-only view of a journal at a point in time. It holds open
// file descriptors and mmapped regions for every partition file; Refresh
// re-scans those files to observe newly appended rows and newly created
// partitions, or discards and relists every partition from scratch if the
// freshly resolved Metadata's Generation no longer matches the one this
// Reader was opened or last refreshed against (an out-of-band rebuild may
// have renamed or replaced files this Reader still holds open).
type Reader struct {
	name     string
	metadata Metadata

	mu         sync.RWMutex
	generation [16]byte
	partitions []*partitionFile
	symbols    map[string]*symbolTable
	rowCount   int64

	interceptorMu sync.Mutex
	interceptor   CloseInterceptor
}

// Open mmaps every partition file belonging to metadata and returns a Reader
// positioned at the journal's current contents.
func Open(metadata Metadata) (*Reader, error) {
	r := &Reader{
		name:     metadata.Name,
		metadata: metadata,
		symbols:  make(map[string]*symbolTable),
	}
	if err := r.reload(); err != nil {
		return nil, errors.Wrap(err, "opening journal")
	}
	return r, nil
}

// Name returns the journal's on-disk name.
func (r *Reader) Name() string { return r.name }

// Columns returns the journal's column names in metadata order.
func (r *Reader) Columns() []string {
	return append([]string(nil), r.metadata.Columns...)
}

// RowCount returns the number of rows currently visible to this Reader.
func (r *Reader) RowCount() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rowCount
}

// Symbol returns the interned string for id in column, or false if the
// column or id is unknown to this Reader's symbol table.
func (r *Reader) Symbol(column string, id uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.symbols[column]
	if !ok || int(id) >= len(st.toText) {
		return "", false
	}
	return st.toText[id], true
}

// Refresh re-resolves this journal's Metadata against metadata. If
// metadata.Generation matches what this Reader last saw, it incrementally
// rescans: pick up appended bytes in already-mapped partitions and list any
// newly created partition files, without disturbing partitions that haven't
// changed. If the generation differs, every partition is closed and the
// journal's directory is relisted from scratch, since a changed generation
// means the files this Reader has open may no longer correspond to the
// journal's current on-disk layout (e.g. Pool.Lock drained and a rebuild ran
// while this name was excluded).
func (r *Reader) Refresh(metadata Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = metadata
	if r.partitions != nil && metadata.Generation == r.generation {
		return r.rescan()
	}
	return r.reload()
}

// reload discards every partition this Reader holds and relists the
// journal's directory from scratch. Callers must hold r.mu for writing,
// except on the first call from Open where no other goroutine can see r yet.
func (r *Reader) reload() error {
	if err := r.closePartitionsLocked(); err != nil {
		return err
	}

	paths, err := partitionPaths(r.metadata.Location, r.metadata.Name)
	if err != nil {
		return err
	}
	sort.Strings(paths)

	partitions := make([]*partitionFile, len(paths))
	var eg errgroup.Group
	for i, p := range paths {
		i, p := i, p
		eg.Go(func() error {
			pf, err := mmapPartition(p)
			if err != nil {
				return errors.Wrapf(err, "mmapping partition %s", p)
			}
			partitions[i] = pf
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, pf := range partitions {
			if pf != nil {
				_ = munmapPartition(pf)
			}
		}
		return err
	}

	r.partitions = partitions
	r.generation = r.metadata.Generation
	return r.rescanLocked()
}

// rescan remaps any already-open partition whose size changed on disk,
// mmaps any partition file that's appeared since the last scan, and rebuilds
// rowCount and the symbol tables from the result. It never closes a
// partition this Reader already has mapped. Callers must hold r.mu.
func (r *Reader) rescan() error {
	for i, pf := range r.partitions {
		fi, err := pf.file.Stat()
		if err != nil {
			return errors.Wrapf(err, "statting partition %s", pf.path)
		}
		if int64(len(pf.data)) == fi.Size() {
			continue
		}
		remapped, err := remapPartition(pf, fi.Size())
		if err != nil {
			return errors.Wrapf(err, "remapping partition %s", pf.path)
		}
		r.partitions[i] = remapped
	}

	known := make(map[string]bool, len(r.partitions))
	for _, pf := range r.partitions {
		known[pf.path] = true
	}
	paths, err := partitionPaths(r.metadata.Location, r.metadata.Name)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if known[p] {
			continue
		}
		pf, err := mmapPartition(p)
		if err != nil {
			return errors.Wrapf(err, "mmapping partition %s", p)
		}
		r.partitions = append(r.partitions, pf)
	}
	sort.Slice(r.partitions, func(i, j int) bool { return r.partitions[i].path < r.partitions[j].path })

	return r.rescanLocked()
}

// rescanLocked rebuilds rowCount and the per-column symbol tables by
// scanning every currently-mapped partition. Callers must hold r.mu.
func (r *Reader) rescanLocked() error {
	symbols := make(map[string]*symbolTable, len(r.metadata.Columns))
	for _, c := range r.metadata.Columns {
		symbols[c] = newSymbolTable()
	}

	var rows int64
	for _, pf := range r.partitions {
		scanner := bufio.NewScanner(bytes.NewReader(pf.data))
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			rows++
			fields := bytes.Split(line, []byte("|"))
			for i, c := range r.metadata.Columns {
				if i >= len(fields) {
					break
				}
				symbols[c].intern(string(fields[i]))
			}
		}
	}

	r.symbols = symbols
	r.rowCount = rows
	return nil
}

func (r *Reader) closePartitionsLocked() error {
	var firstErr error
	for _, pf := range r.partitions {
		if err := munmapPartition(pf); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.partitions = nil
	return firstErr
}

// SetCloseInterceptor installs (or, with nil, removes) the hook consulted by
// Close. A Reader with no interceptor frees itself unconditionally.
func (r *Reader) SetCloseInterceptor(ci CloseInterceptor) {
	r.interceptorMu.Lock()
	defer r.interceptorMu.Unlock()
	r.interceptor = ci
}

// Close asks the installed interceptor whether it may actually free this
// Reader's resources. With no interceptor installed, it frees unconditionally
// — this is the path a foreign Reader (opened outside any pool) takes.
func (r *Reader) Close() error {
	r.interceptorMu.Lock()
	ci := r.interceptor
	r.interceptorMu.Unlock()

	if ci != nil && !ci.CanClose(r) {
		return nil
	}
	return r.free()
}

// free unconditionally releases every mmap and file descriptor this Reader
// holds. It is idempotent.
func (r *Reader) free() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closePartitionsLocked()
}

func partitionPaths(base, name string) ([]string, error) {
	dir := filepath.Join(base, name)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("journal directory does not exist: %s", dir)
	} else if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".partition" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func mmapPartition(path string) (*partitionFile, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock: %s", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "statting partition")
	}

	if fi.Size() == 0 {
		// Nothing to map; keep the descriptor so Munmap/Close paths stay
		// symmetric without special-casing empty partitions.
		return &partitionFile{path: path, file: f}, nil
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap: %s", err)
	}

	if err := madvise(data, syscall.MADV_RANDOM); err != nil {
		_ = syscall.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("madvise: %s", err)
	}

	return &partitionFile{path: path, file: f, data: data}, nil
}

// remapPartition drops pf's current mapping (if any) and maps size bytes of
// the same underlying file descriptor in its place, picking up bytes
// appended to the file since pf was last mapped.
func remapPartition(pf *partitionFile, size int64) (*partitionFile, error) {
	if pf.data != nil {
		if err := syscall.Munmap(pf.data); err != nil {
			return nil, fmt.Errorf("munmap: %s", err)
		}
		pf.data = nil
	}
	if size == 0 {
		return pf, nil
	}

	data, err := syscall.Mmap(int(pf.file.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %s", err)
	}
	if err := madvise(data, syscall.MADV_RANDOM); err != nil {
		_ = syscall.Munmap(data)
		return nil, fmt.Errorf("madvise: %s", err)
	}
	pf.data = data
	return pf, nil
}

func munmapPartition(pf *partitionFile) error {
	if pf == nil || pf.file == nil {
		return nil
	}
	var firstErr error
	if pf.data != nil {
		if err := syscall.Munmap(pf.data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("munmap: %s", err)
		}
		pf.data = nil
	}
	if err := syscall.Flock(int(pf.file.Fd()), syscall.LOCK_UN); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("unlock: %s", err)
	}
	if err := pf.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close file: %s", err)
	}
	return firstErr
}

// ColumnHash returns a stable 64-bit xxhash of a column name. Nothing in
// this module calls it outside its tests; the Reader's symbol tables key
// values by their string, not by this hash.
func ColumnHash(name string) uint64 {
	return xxhash.Sum64String(name)
}
