package storage

import (
	"testing"
	"time"
)

var listingNow = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func TestParseListingClassifiesEntries(t *testing.T) {
	lines := []string{
		"total 12",
		"drwxr-xr-x    2 ftp      ftp          4096 Mar 10 09:00 .",
		"drwxr-xr-x    5 ftp      ftp          4096 Jan  2  2023 ..",
		"-rw-r--r--    1 1001     backup   52428800 Mar  9 03:15 vzdump-qemu-101-2024_03_09-03_00_00.vma.lzo",
		"-rw-r--r--    1 1001     backup   52428801 Mar  8 03:15 vzdump-qemu-101-2024_03_08-03_00_00.vma.lzo\r",
		"drwxr-xr-x    2 ftp      ftp          4096 Feb 28  2024 old",
		"lrwxrwxrwx    1 ftp      ftp            12 Mar  1 10:00 latest -> vzdump-qemu-101.vma.lzo",
		"",
		"garbage line",
	}

	files := ParseListing(lines, "/backups/101", listingNow)
	if len(files) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(files), files)
	}

	first := files[0]
	if first.Type != TypeFile || !first.IsRegular() {
		t.Errorf("first entry type = %s, want file", first.Type)
	}
	if first.Name != "vzdump-qemu-101-2024_03_09-03_00_00.vma.lzo" {
		t.Errorf("first name = %q", first.Name)
	}
	if first.Path != "/backups/101/vzdump-qemu-101-2024_03_09-03_00_00.vma.lzo" {
		t.Errorf("first path = %q", first.Path)
	}
	if first.Owner != "1001" || first.Group != "backup" || first.Size != 52428800 || first.Links != 1 {
		t.Errorf("unexpected fields: %+v", first)
	}
	wantTime := time.Date(2024, time.March, 9, 3, 15, 0, 0, time.UTC)
	if !first.ModTime.Equal(wantTime) {
		t.Errorf("first mod time = %v, want %v", first.ModTime, wantTime)
	}

	if files[1].Name != "vzdump-qemu-101-2024_03_08-03_00_00.vma.lzo" {
		t.Errorf("carriage return not stripped: %q", files[1].Name)
	}

	if files[2].Type != TypeFolder || files[2].Name != "old" {
		t.Errorf("expected folder 'old', got %+v", files[2])
	}
	if !files[2].ModTime.Equal(time.Date(2024, time.February, 28, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("year stamp should resolve to midnight, got %v", files[2].ModTime)
	}

	if files[3].Type != TypeLink || files[3].Name != "latest" {
		t.Errorf("expected link 'latest', got %+v", files[3])
	}
}

func TestParseListingOnlyPseudoEntries(t *testing.T) {
	lines := []string{
		"drwxr-xr-x    2 ftp      ftp          4096 Mar 10 09:00 .",
		"drwxr-xr-x    5 ftp      ftp          4096 Mar 10 09:00 ..",
	}
	if files := ParseListing(lines, "/", listingNow); len(files) != 0 {
		t.Fatalf("expected no entries, got %+v", files)
	}
}

func TestParseListingSkipsPseudoEntriesOfAnyType(t *testing.T) {
	lines := []string{
		"-rw-r--r--    1 ftp      ftp             0 Mar 10 09:00 .",
		"lrwxrwxrwx    1 ftp      ftp             1 Mar 10 09:00 .. -> /",
	}
	if files := ParseListing(lines, "/", listingNow); len(files) != 0 {
		t.Fatalf("pseudo entries must be skipped regardless of type, got %+v", files)
	}
}

func TestParseListingEmptyAndMalformed(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"nil", nil},
		{"blank", []string{"", "   "}},
		{"dos style", []string{"03-09-24  03:15AM       52428800 backup.vma"}},
		{"mlsd facts", []string{"type=file;size=10;modify=20240309031500; backup.vma"}},
		{"bad month", []string{"-rw-r--r--    1 ftp ftp 10 Foo  9 03:15 backup.vma"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if files := ParseListing(tt.lines, "/", listingNow); len(files) != 0 {
				t.Fatalf("expected no entries, got %+v", files)
			}
		})
	}
}

func TestParseListingTimeYearRollover(t *testing.T) {
	now := time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		line  string
		wantY int
	}{
		{"december entry belongs to last year", "-rw-r--r-- 1 ftp ftp 1 Dec 31 23:00 a", 2023},
		{"today stays this year", "-rw-r--r-- 1 ftp ftp 1 Jan  5 09:00 b", 2024},
		{"tomorrow within tolerance", "-rw-r--r-- 1 ftp ftp 1 Jan  6 08:00 c", 2024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := ParseListing([]string{tt.line}, "/", now)
			if len(files) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(files))
			}
			if got := files[0].ModTime.Year(); got != tt.wantY {
				t.Fatalf("year = %d, want %d", got, tt.wantY)
			}
		})
	}
}

func TestParseListingLeapDayInCommonYear(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	files := ParseListing([]string{"-rw-r--r-- 1 ftp ftp 1 Feb 29 03:00 leap.vma"}, "/", now)
	if len(files) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(files))
	}
	want := time.Date(2024, time.February, 29, 3, 0, 0, 0, time.UTC)
	if !files[0].ModTime.Equal(want) {
		t.Fatalf("ModTime = %v, want %v", files[0].ModTime, want)
	}
}

func TestParseListingNameWithSpaces(t *testing.T) {
	files := ParseListing([]string{"-rw-r--r-- 1 ftp ftp 10 Mar  9 03:15 my backup file.vma"}, "/d", listingNow)
	if len(files) != 1 || files[0].Name != "my backup file.vma" {
		t.Fatalf("unexpected result %+v", files)
	}
}
