package paging

import "testing"

// These tests exercise the pure address/flag math paging.go performs
// without paging enabled. The functions that dereference PMM-sourced frame
// addresses (KernelPageInit, CreateUserPageDir, MapPhysicalPage, ...) rely
// on identity-mapped or paging-disabled physical memory and are exercised
// on real/emulated hardware rather than in a hosted test binary, the same
// limitation every package touching raw physical addresses in this tree
// has.

func TestMakeEntryRoundTrip(t *testing.T) {
	e := makeEntry(0x00123000, flagPresent|flagRW)
	if !e.present() {
		t.Fatal("expected entry to be present")
	}
	if got, want := e.frame(), uintptr(0x00123000); got != want {
		t.Fatalf("frame() = %#x; want %#x", got, want)
	}
}

func TestMakeEntryNotPresent(t *testing.T) {
	e := makeEntry(0x00123000, flagRW)
	if e.present() {
		t.Fatal("expected entry without flagPresent to report not present")
	}
}

func TestMakeEntryMasksLowBitsFromFrame(t *testing.T) {
	// A misaligned "frame" address must not bleed into the flag bits.
	e := makeEntry(0x00123FFF, flagPresent)
	if got, want := e.frame(), uintptr(0x00123000); got != want {
		t.Fatalf("frame() = %#x; want %#x (low 12 bits must be masked off)", got, want)
	}
}

func TestIndexOfAndLinearAddrRoundTrip(t *testing.T) {
	cases := []uintptr{0, 0x00400000, 0x00401000, 0xFFC00000, 0xFFFFF000}
	for _, linear := range cases {
		pdIdx, ptIdx := indexOf(linear)
		if got := linearAddr(pdIdx, ptIdx); got != linear {
			t.Errorf("linearAddr(indexOf(%#x)) = %#x; want %#x", linear, got, linear)
		}
	}
}

func TestIndexOfSplitsAddressSpace(t *testing.T) {
	pdIdx, ptIdx := indexOf(0x00401000)
	if pdIdx != 1 || ptIdx != 1 {
		t.Fatalf("indexOf(0x00401000) = (%d, %d); want (1, 1)", pdIdx, ptIdx)
	}
}

func TestPteFlagsCombinations(t *testing.T) {
	cases := []struct {
		us, rw bool
		want   uint32
	}{
		{false, false, flagPresent},
		{false, true, flagPresent | flagRW},
		{true, false, flagPresent | flagUser},
		{true, true, flagPresent | flagRW | flagUser},
	}
	for _, c := range cases {
		if got := pteFlags(c.us, c.rw); got != c.want {
			t.Errorf("pteFlags(us=%v, rw=%v) = %#x; want %#x", c.us, c.rw, got, c.want)
		}
	}
}

func TestKernelAreaPDEndIndexReportsBoundary(t *testing.T) {
	// With no PD slots claimed by the kernel, the accessor reports 0.
	kernelAreaPDEndIndex = 0
	if got := KernelAreaPDEndIndex(); got != 0 {
		t.Fatalf("KernelAreaPDEndIndex() = %d; want 0", got)
	}
}

func TestMapPhysicalPageToLinearRejectsKernelArea(t *testing.T) {
	kernelAreaPDEndIndex = 4
	var pd PageDirectory

	if MapPhysicalPageToLinear(&pd, 0x1000, linearAddr(0, 0), true, true) {
		t.Fatal("expected mapping inside the kernel area to be rejected")
	}
}
