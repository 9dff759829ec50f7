package storage

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// listingLine matches the Unix "ls -l" layout most FTP servers use for LIST:
// rights, links, owner, group, size, month, day, time-or-year, name.
var listingLine = regexp.MustCompile(
	`^(?P<rights>[bcdlps-][rwxsStT-]{9})[+@.]?\s+` +
		`(?P<links>\d+)\s+` +
		`(?P<owner>\S+)\s+` +
		`(?P<group>\S+)\s+` +
		`(?P<size>\d+)\s+` +
		`(?P<month>[A-Za-z]{3})\s+` +
		`(?P<day>\d{1,2})\s+` +
		`(?P<stamp>\d{1,2}:\d{2}|\d{4})\s+` +
		`(?P<name>.+)$`)

var (
	groupRights = listingLine.SubexpIndex("rights")
	groupLinks  = listingLine.SubexpIndex("links")
	groupOwner  = listingLine.SubexpIndex("owner")
	groupGroup  = listingLine.SubexpIndex("group")
	groupSize   = listingLine.SubexpIndex("size")
	groupMonth  = listingLine.SubexpIndex("month")
	groupDay    = listingLine.SubexpIndex("day")
	groupStamp  = listingLine.SubexpIndex("stamp")
	groupName   = listingLine.SubexpIndex("name")
)

// ParseListing turns raw LIST lines of dir into remote file descriptors.
// Lines that do not look like a Unix listing entry are ignored, as are the
// "." and ".." pseudo-entries. now anchors timestamps that omit the year.
func ParseListing(lines []string, dir string, now time.Time) []RemoteFile {
	var files []RemoteFile
	for _, line := range lines {
		f, ok := parseListingLine(strings.TrimRight(line, "\r\n"), now)
		if !ok {
			continue
		}
		f.Path = path.Join(dir, f.Name)
		files = append(files, f)
	}
	return files
}

func parseListingLine(line string, now time.Time) (RemoteFile, bool) {
	m := listingLine.FindStringSubmatch(line)
	if m == nil {
		return RemoteFile{}, false
	}

	f := RemoteFile{
		Rights: m[groupRights],
		Type:   typeFromRights(m[groupRights]),
		Owner:  m[groupOwner],
		Group:  m[groupGroup],
		Name:   m[groupName],
	}
	if f.Type == TypeLink {
		if target := strings.Index(f.Name, " -> "); target >= 0 {
			f.Name = f.Name[:target]
		}
	}
	if f.Name == "." || f.Name == ".." {
		return RemoteFile{}, false
	}

	f.Links, _ = strconv.Atoi(m[groupLinks])
	f.Size, _ = strconv.ParseInt(m[groupSize], 10, 64)

	modTime, ok := parseListingTime(m[groupMonth], m[groupDay], m[groupStamp], now)
	if !ok {
		return RemoteFile{}, false
	}
	f.ModTime = modTime
	return f, true
}

func typeFromRights(rights string) FileType {
	switch rights[0] {
	case '-':
		return TypeFile
	case 'd':
		return TypeFolder
	case 'l':
		return TypeLink
	default:
		return TypeOther
	}
}

// parseListingTime resolves "Jan 2 15:04" (recent, year omitted) and
// "Jan 2 2006" (older) stamps. Recent stamps that would land more than a day
// in the future belong to the previous year.
func parseListingTime(month, day, stamp string, now time.Time) (time.Time, bool) {
	loc := now.Location()
	if strings.Contains(stamp, ":") {
		t, err := time.ParseInLocation("Jan 2 15:04", month+" "+day+" "+stamp, loc)
		if err != nil {
			return time.Time{}, false
		}
		// Walk back from the current year to the latest one holding the date
		// (Feb 29) that is not more than a day ahead of now.
		for year := now.Year(); year > now.Year()-8; year-- {
			c := time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
			if c.Month() == t.Month() && !c.After(now.Add(24*time.Hour)) {
				return c, true
			}
		}
		return time.Time{}, false
	}

	t, err := time.ParseInLocation("Jan 2 2006", month+" "+day+" "+stamp, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
