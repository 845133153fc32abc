package ata

import "testing"

// fakeController simulates a disk that is immediately ready and serves
// fixed sector-sized patterns back through regData reads.
type fakeController struct {
	sectors [][]byte
	lba     uint64
	reads   int
}

func newFakeController(sectorCount int) *fakeController {
	f := &fakeController{}
	for i := 0; i < sectorCount; i++ {
		sec := make([]byte, SectorSize)
		for j := range sec {
			sec[j] = byte(i)
		}
		f.sectors = append(f.sectors, sec)
	}
	return f
}

func (f *fakeController) inB(port uint16) uint8 {
	if port == regStatus {
		return srDRDY | srDRQ
	}
	return 0
}

func (f *fakeController) outB(port uint16, value uint8) {}

func (f *fakeController) inSL(port uint16, dst []byte, count int) {
	copy(dst, f.sectors[f.reads])
	f.reads++
}

func withFakeController(f *fakeController) func() {
	realInB, realOutB, realInSL := inBFn, outBFn, inSLFn
	inBFn, outBFn, inSLFn = f.inB, f.outB, f.inSL
	return func() { inBFn, outBFn, inSLFn = realInB, realOutB, realInSL }
}

func TestReadSectorsSingle(t *testing.T) {
	f := newFakeController(1)
	defer withFakeController(f)()

	dst := make([]byte, SectorSize)
	if err := ReadSectors(0, 1, dst); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	for i, b := range dst {
		if b != 0 {
			t.Fatalf("dst[%d] = %d; want 0", i, b)
		}
	}
}

func TestReadSectorsMultiple(t *testing.T) {
	f := newFakeController(3)
	defer withFakeController(f)()

	dst := make([]byte, 3*SectorSize)
	if err := ReadSectors(10, 3, dst); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if f.reads != 3 {
		t.Fatalf("reads = %d; want 3", f.reads)
	}
	if dst[SectorSize] != 1 || dst[2*SectorSize] != 2 {
		t.Fatal("sector contents not placed at the expected offsets")
	}
}

func TestReadSectorsRejectsUndersizedBuffer(t *testing.T) {
	f := newFakeController(1)
	defer withFakeController(f)()

	dst := make([]byte, SectorSize-1)
	if err := ReadSectors(0, 1, dst); err == nil {
		t.Fatal("expected an error for an undersized destination buffer")
	}
}

func TestReadSectorsRejectsOversizedLBA(t *testing.T) {
	f := newFakeController(1)
	defer withFakeController(f)()

	dst := make([]byte, SectorSize)
	if err := ReadSectors(1<<48, 1, dst); err == nil {
		t.Fatal("expected an error for an LBA exceeding 48 bits")
	}
}

func TestReadSectorsPropagatesNotReady(t *testing.T) {
	realInB := inBFn
	defer func() { inBFn = realInB }()
	inBFn = func(port uint16) uint8 { return 0 } // never reports DRDY

	dst := make([]byte, SectorSize)
	if err := ReadSectors(0, 1, dst); err == nil {
		t.Fatal("expected an error when the device never becomes ready")
	}
}
