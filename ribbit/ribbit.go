// Package ribbit parses the small set of Ribbit version-discovery record
// shapes this client cares about: the CDN server list (CDNS) and the
// current build's config hashes (Versions). Ribbit itself speaks TCP/MIME
// on the wire; dialing the service is left to the caller, this package
// only parses the PSV payload once fetched.
package ribbit

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Table is a generically parsed PSV document: an ordered list of column
// names and the rows beneath them, both pipe-delimited. The column header
// line also carries a "!TYPE" suffix (STRING, DEC, HEX) which this parser
// ignores beyond stripping it, since every field this client reads is
// treated as a string.
type Table struct {
	Columns []string
	Rows    [][]string
	SeqnID  int64
}

// ParseTable parses one Ribbit PSV response body into a Table, skipping
// the leading "##seqn = N" directive line it carries when fed.
func ParseTable(body string) (*Table, error) {
	sc := bufio.NewScanner(strings.NewReader(body))
	t := &Table{}
	haveHeader := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "##") {
			if eq := strings.Index(line, "="); eq >= 0 {
				seqn := strings.TrimSpace(line[eq+1:])
				if n, err := strconv.ParseInt(seqn, 10, 64); err == nil {
					t.SeqnID = n
				}
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "|")
		if !haveHeader {
			t.Columns = make([]string, len(fields))
			for i, f := range fields {
				t.Columns[i] = strings.SplitN(f, "!", 2)[0]
			}
			haveHeader = true
			continue
		}
		t.Rows = append(t.Rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ribbit: scan: %w", err)
	}
	if !haveHeader {
		return nil, fmt.Errorf("ribbit: no header row")
	}
	return t, nil
}

func (t *Table) colIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// CDNEntry is one row of the CDNS table: a region's mirror server list and
// the path prefix under which its archives live.
type CDNEntry struct {
	Region     string
	Path       string
	Servers    []string
	ConfigPath string
}

// ParseCDNS parses a CDNS response body.
func ParseCDNS(body string) ([]CDNEntry, error) {
	t, err := ParseTable(body)
	if err != nil {
		return nil, err
	}
	regionIdx := t.colIndex("Name")
	pathIdx := t.colIndex("Path")
	serversIdx := t.colIndex("Hosts")
	configPathIdx := t.colIndex("ConfigPath")
	if regionIdx < 0 || pathIdx < 0 || serversIdx < 0 {
		return nil, fmt.Errorf("ribbit: CDNS table missing required columns")
	}

	entries := make([]CDNEntry, 0, len(t.Rows))
	for _, row := range t.Rows {
		if len(row) <= serversIdx {
			continue
		}
		e := CDNEntry{
			Region:  row[regionIdx],
			Path:    row[pathIdx],
			Servers: strings.Fields(row[serversIdx]),
		}
		if configPathIdx >= 0 && configPathIdx < len(row) {
			e.ConfigPath = row[configPathIdx]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// VersionsEntry is one row of the Versions table: a region's current
// build's config hashes and numeric build ID.
type VersionsEntry struct {
	Region       string
	BuildConfig  string
	CDNConfig    string
	BuildID      int64
	VersionsName string
}

// ParseVersions parses a Versions response body.
func ParseVersions(body string) ([]VersionsEntry, error) {
	t, err := ParseTable(body)
	if err != nil {
		return nil, err
	}
	regionIdx := t.colIndex("Region")
	buildConfigIdx := t.colIndex("BuildConfig")
	cdnConfigIdx := t.colIndex("CDNConfig")
	buildIDIdx := t.colIndex("BuildId")
	versionsNameIdx := t.colIndex("VersionsName")
	if regionIdx < 0 || buildConfigIdx < 0 || cdnConfigIdx < 0 {
		return nil, fmt.Errorf("ribbit: Versions table missing required columns")
	}

	entries := make([]VersionsEntry, 0, len(t.Rows))
	for _, row := range t.Rows {
		if len(row) <= cdnConfigIdx {
			continue
		}
		e := VersionsEntry{
			Region:      row[regionIdx],
			BuildConfig: row[buildConfigIdx],
			CDNConfig:   row[cdnConfigIdx],
		}
		if buildIDIdx >= 0 && buildIDIdx < len(row) {
			if n, err := strconv.ParseInt(row[buildIDIdx], 10, 64); err == nil {
				e.BuildID = n
			}
		}
		if versionsNameIdx >= 0 && versionsNameIdx < len(row) {
			e.VersionsName = row[versionsNameIdx]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ForRegion returns the first CDNEntry/VersionsEntry matching region, the
// common "pick this client's locale" step after parsing either table.
func ForRegion[T interface{ regionOf() string }](entries []T, region string) (T, bool) {
	for _, e := range entries {
		if e.regionOf() == region {
			return e, true
		}
	}
	var zero T
	return zero, false
}

func (e CDNEntry) regionOf() string      { return e.Region }
func (e VersionsEntry) regionOf() string { return e.Region }
