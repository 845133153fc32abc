// Package fat16 walks a single FAT16 partition on the boot disk: enough to
// resolve an absolute 8.3 path to its directory entry and read the file's
// data in cluster-chain order. There is no write support and no directory
// creation; this kernel only ever loads pre-built executables and data
// files from read-only disk images.
//
// Grounded on original_source/kernel/fs.c (fat_find_entry/fat_read/
// fs_init) and inc/kernel/fat16.h's on-disk structures, reworked from
// manual byte-offset struct casts into encoding/binary field reads and
// strings.EqualFold 8.3 comparisons — the idiomatic Go rendition of the
// same walk.
package fat16

import (
	"encoding/binary"
	"strings"

	"github.com/ThousandPine/FiRSTSTEP/kernel"
	"github.com/ThousandPine/FiRSTSTEP/kernel/driver/ata"
)

const (
	sectorSize = ata.SectorSize

	mbrPartitionTableOffset = 446
	mbrBootableFlag         = 0x80
	mbrEntrySize            = 16

	dirEntrySize  = 32
	attrDirectory = 0x10

	fatEndOfChainMin = 0xFFF0
	fatFreeCluster   = 0x0000
	fatReservedClus  = 0x0001
)

var readSectorsFn = ata.ReadSectors

// layout holds the BPB-derived geometry of the mounted partition, computed
// once by Init.
type layout struct {
	mounted        bool
	fatStartLBA    uint64
	rootStartLBA   uint64
	rootNumSectors uint64
	dataStartLBA   uint64
	secPerClus     uint64
}

var fs layout

// Init locates the first bootable MBR partition, verifies it is FAT16, and
// computes the FAT/root-directory/data region boundaries. It must run
// before Open.
func Init() error {
	mbr := make([]byte, sectorSize)
	if err := readSectorsFn(0, 1, mbr); err != nil {
		return err
	}

	partStartLBA, ok := findBootablePartition(mbr)
	if !ok {
		return &kernel.Error{Module: "fat16", Message: "no bootable MBR partition"}
	}

	boot := make([]byte, sectorSize)
	if err := readSectorsFn(partStartLBA, 1, boot); err != nil {
		return err
	}

	if !strings.HasPrefix(string(boot[54:62]), "FAT16") {
		return &kernel.Error{Module: "fat16", Message: "partition is not FAT16"}
	}

	rsvdSecCnt := uint64(binary.LittleEndian.Uint16(boot[14:16]))
	numFATs := uint64(boot[16])
	rootEntCnt := uint64(binary.LittleEndian.Uint16(boot[17:19]))
	secPerFAT16 := uint64(binary.LittleEndian.Uint16(boot[22:24]))
	secPerClus := uint64(boot[13])

	fatStart := partStartLBA + rsvdSecCnt
	rootStart := fatStart + numFATs*secPerFAT16
	rootSectors := (rootEntCnt*dirEntrySize + sectorSize - 1) / sectorSize
	dataStart := rootStart + rootSectors

	fs = layout{
		mounted:        true,
		fatStartLBA:    fatStart,
		rootStartLBA:   rootStart,
		rootNumSectors: rootSectors,
		dataStartLBA:   dataStart,
		secPerClus:     secPerClus,
	}
	return nil
}

func findBootablePartition(mbr []byte) (startLBA uint64, ok bool) {
	for i := 0; i < 4; i++ {
		off := mbrPartitionTableOffset + i*mbrEntrySize
		if mbr[off] != mbrBootableFlag {
			continue
		}
		return uint64(binary.LittleEndian.Uint32(mbr[off+8 : off+12])), true
	}
	return 0, false
}

// dirEntry is the subset of a FAT16 directory entry this package needs.
type dirEntry struct {
	name     string // uppercase base name, no trailing spaces
	ext      string // uppercase extension, no trailing spaces, no dot
	attr     byte
	fstClus  uint16
	fileSize uint32
}

func parseDirEntry(buf []byte) dirEntry {
	return dirEntry{
		name:     strings.TrimRight(string(buf[0:8]), " "),
		ext:      strings.TrimRight(string(buf[8:11]), " "),
		attr:     buf[11],
		fstClus:  binary.LittleEndian.Uint16(buf[26:28]),
		fileSize: binary.LittleEndian.Uint32(buf[28:32]),
	}
}

func matchesName(e dirEntry, component string) bool {
	base, ext, _ := strings.Cut(component, ".")
	return strings.EqualFold(e.name, base) && strings.EqualFold(e.ext, ext)
}

// File is a handle returned by Open: the resolved directory entry plus
// enough state to translate a byte offset into disk sectors on demand.
type File struct {
	entry dirEntry
}

// Size returns the file's length in bytes, as recorded in its directory
// entry.
func (f *File) Size() int64 { return int64(f.entry.fileSize) }

// Open resolves an absolute, '/'-separated 8.3 path against the mounted
// partition's directory tree.
func Open(path string) (*File, error) {
	if !fs.mounted {
		return nil, &kernel.Error{Module: "fat16", Message: "filesystem not mounted"}
	}
	if !strings.HasPrefix(path, "/") {
		return nil, &kernel.Error{Module: "fat16", Message: "path must be absolute"}
	}

	components := splitPath(path)
	if len(components) == 0 {
		return nil, &kernel.Error{Module: "fat16", Message: "empty path"}
	}

	entry, err := findInRoot(components[0])
	if err != nil {
		return nil, err
	}

	for _, name := range components[1:] {
		if entry.attr&attrDirectory == 0 {
			return nil, &kernel.Error{Module: "fat16", Message: "path component is not a directory"}
		}
		entry, err = findInDir(entry, name)
		if err != nil {
			return nil, err
		}
	}

	return &File{entry: entry}, nil
}

func splitPath(path string) []string {
	var out []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func findInRoot(name string) (dirEntry, error) {
	buf := make([]byte, sectorSize)
	for i := uint64(0); i < fs.rootNumSectors; i++ {
		if err := readSectorsFn(fs.rootStartLBA+i, 1, buf); err != nil {
			return dirEntry{}, err
		}
		if e, found, done := scanSector(buf, name); found {
			return e, nil
		} else if done {
			break
		}
	}
	return dirEntry{}, notFound(name)
}

func findInDir(dir dirEntry, name string) (dirEntry, error) {
	buf := make([]byte, sectorSize)
	clus := dir.fstClus
	for isDataCluster(clus) {
		lba := clusterToLBA(clus)
		for s := uint64(0); s < fs.secPerClus; s++ {
			if err := readSectorsFn(lba+s, 1, buf); err != nil {
				return dirEntry{}, err
			}
			if e, found, done := scanSector(buf, name); found {
				return e, nil
			} else if done {
				return dirEntry{}, notFound(name)
			}
		}
		var err error
		clus, err = nextCluster(clus)
		if err != nil {
			return dirEntry{}, err
		}
	}
	return dirEntry{}, notFound(name)
}

// scanSector scans one directory sector's worth of 32-byte entries,
// stopping at the first entry whose first name byte is zero (the FAT
// convention for "no more entries").
func scanSector(buf []byte, name string) (e dirEntry, found, done bool) {
	for off := 0; off+dirEntrySize <= len(buf); off += dirEntrySize {
		if buf[off] == 0 {
			return dirEntry{}, false, true
		}
		entry := parseDirEntry(buf[off : off+dirEntrySize])
		if matchesName(entry, name) {
			return entry, true, false
		}
	}
	return dirEntry{}, false, false
}

func notFound(name string) error {
	return &kernel.Error{Module: "fat16", Message: "file not found: " + name}
}

func isDataCluster(clus uint16) bool {
	return clus > fatReservedClus && clus < fatEndOfChainMin
}

func clusterToLBA(clus uint16) uint64 {
	return fs.dataStartLBA + fs.secPerClus*uint64(clus-2)
}

func nextCluster(clus uint16) (uint16, error) {
	byteOff := uint64(clus) * 2
	buf := make([]byte, sectorSize)
	if err := readSectorsFn(fs.fatStartLBA+byteOff/sectorSize, 1, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[byteOff%sectorSize:]), nil
}

// ReadAt reads up to len(dst) bytes starting at offset, returning the
// number of bytes actually read (fewer than len(dst) at end of file, 0 once
// offset is at or past the file's size).
func (f *File) ReadAt(dst []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, &kernel.Error{Module: "fat16", Message: "negative offset"}
	}
	if offset >= int64(f.entry.fileSize) {
		return 0, nil
	}

	toRead := int64(len(dst))
	if remaining := int64(f.entry.fileSize) - offset; toRead > remaining {
		toRead = remaining
	}

	clusSize := fs.secPerClus * sectorSize
	clus := f.entry.fstClus
	skip := offset
	for uint64(skip) >= clusSize {
		var err error
		clus, err = nextCluster(clus)
		if err != nil {
			return 0, err
		}
		skip -= int64(clusSize)
	}
	if !isDataCluster(clus) {
		return 0, &kernel.Error{Module: "fat16", Message: "corrupt cluster chain"}
	}

	sectorBuf := make([]byte, sectorSize)
	var read int64
	clusOff := uint64(skip)

	for read < toRead {
		lba := clusterToLBA(clus) + clusOff/sectorSize
		if err := readSectorsFn(lba, 1, sectorBuf); err != nil {
			return int(read), err
		}

		secOff := clusOff % sectorSize
		n := int64(sectorSize) - int64(secOff)
		if remaining := toRead - read; n > remaining {
			n = remaining
		}
		copy(dst[read:read+n], sectorBuf[secOff:uint64(secOff)+uint64(n)])

		read += n
		clusOff += uint64(n)

		if clusOff >= clusSize {
			clusOff = 0
			var err error
			clus, err = nextCluster(clus)
			if err != nil {
				return int(read), err
			}
			if read < toRead && !isDataCluster(clus) {
				return int(read), &kernel.Error{Module: "fat16", Message: "corrupt cluster chain"}
			}
		}
	}

	return int(read), nil
}
