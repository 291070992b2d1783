// Package partition maps a classified query to the monthly partition files
// of the graph dataset.
//
// Partitions live flat under a base directory as YYYYMM.json. Resolution
// never fails: a missing directory or missing months simply yield fewer
// files, and the pipeline continues with whatever was found.
package partition

import (
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/debug"
)

const fileSuffix = ".json"

// Window sizes for auto-selection, by time scope.
const (
	WindowSingleMonth  = 1
	WindowMultiMonth   = 6
	WindowYearOverYear = 24
	WindowDefault      = 12
)

// Info describes one partition file on disk.
type Info struct {
	Date      string `json:"date"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Summary describes a set of partition files.
type Summary struct {
	FileCount   int      `json:"file_count"`
	DateRange   []string `json:"date_range"`
	TotalSizeMB float64  `json:"total_size_mb"`
}

// Listing is the catalog of partitions under a dataset directory.
type Listing struct {
	Object string `json:"object"`
	Data   []Info `json:"data"`
	Summary
}

// Catalog lists the partitions under basePath and summarizes them. Data is
// never nil.
func Catalog(basePath string) Listing {
	infos := List(basePath)
	paths := make([]string, len(infos))
	for i, info := range infos {
		paths[i] = info.Path
	}
	if infos == nil {
		infos = []Info{}
	}
	return Listing{Object: "list", Data: infos, Summary: Describe(paths)}
}

// Path returns the partition path for a date token under basePath.
func Path(basePath, date string) string {
	return filepath.Join(basePath, date+fileSuffix)
}

// Resolve selects the partition files a query should read.
//
// Explicit dates win outright and never fall through, so a caller asking for
// a month that does not exist gets an empty set. Dates extracted from the
// query are tried next and fall through to auto-selection when none of them
// exist. Auto-selection takes the most recent partitions, sized by the
// analysis time scope.
func Resolve(analysis api.QueryAnalysis, basePath string, explicitDates []string) []string {
	if len(explicitDates) > 0 {
		files := existing(basePath, explicitDates)
		debug.Log("partition", "explicit dates", "dates", explicitDates, "files", len(files))
		return files
	}

	if len(analysis.ExtractedDateRange) > 0 {
		files := existing(basePath, analysis.ExtractedDateRange)
		if len(files) > 0 {
			debug.Log("partition", "extracted dates", "dates", analysis.ExtractedDateRange, "files", len(files))
			return files
		}
		slog.Warn("no partitions found for extracted dates, auto-selecting",
			"dates", analysis.ExtractedDateRange, "base_path", basePath)
	}

	return autoSelect(basePath, analysis.TimeScope)
}

// WindowFor returns how many of the latest partitions auto-selection reads
// for a time scope.
func WindowFor(timeScope string) int {
	switch timeScope {
	case api.TimeScopeSingleMonth:
		return WindowSingleMonth
	case api.TimeScopeMultiMonth:
		return WindowMultiMonth
	case api.TimeScopeYearOverYear:
		return WindowYearOverYear
	default:
		return WindowDefault
	}
}

func autoSelect(basePath, timeScope string) []string {
	available := List(basePath)
	if len(available) == 0 {
		slog.Warn("no partitions available", "base_path", basePath)
		return []string{}
	}

	n := min(WindowFor(timeScope), len(available))
	files := make([]string, 0, n)
	for _, info := range available[len(available)-n:] {
		files = append(files, info.Path)
	}
	debug.Log("partition", "auto-selected", "time_scope", timeScope, "files", len(files))
	return files
}

// existing maps dates to partition paths, keeping first-seen order and
// dropping duplicates, malformed tokens and missing files.
func existing(basePath string, dates []string) []string {
	files := []string{}
	for _, date := range dates {
		if _, _, ok := api.ParseDateToken(date); !ok {
			continue
		}
		path := Path(basePath, date)
		if slices.Contains(files, path) {
			continue
		}
		fi, err := os.Stat(path)
		if err != nil || fi.IsDir() {
			debug.Log("partition", "partition not found", "path", path)
			continue
		}
		files = append(files, path)
	}
	return files
}

// List returns the valid partitions under basePath in chronological order.
// Entries that are not YYYYMM.json with an in-range date are ignored.
func List(basePath string) []Info {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) != 6+len(fileSuffix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		date := strings.TrimSuffix(name, fileSuffix)
		if !api.ValidDateToken(date) {
			continue
		}
		info := Info{Date: date, Path: filepath.Join(basePath, name)}
		if fi, err := e.Info(); err == nil {
			info.SizeBytes = fi.Size()
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Date, b.Date) })
	return out
}

// Describe summarizes a set of partition files. Files that no longer exist
// are counted but contribute neither a date nor a size.
func Describe(files []string) Summary {
	s := Summary{FileCount: len(files), DateRange: []string{}}
	var total int64
	for _, path := range files {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		name := filepath.Base(path)
		if len(name) == 6+len(fileSuffix) && strings.HasSuffix(name, fileSuffix) {
			s.DateRange = append(s.DateRange, strings.TrimSuffix(name, fileSuffix))
		}
		total += fi.Size()
	}
	slices.Sort(s.DateRange)
	s.TotalSizeMB = math.Round(float64(total)/(1024*1024)*100) / 100
	return s
}
