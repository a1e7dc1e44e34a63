// Command manifestdump prints a per-level summary of the live SST files a
// MANIFEST log describes, by replaying its VersionEdit records the same way
// db.Open's recovery path does (minus actually opening the files).
//
//	./bin/manifestdump <MANIFEST_FILE>
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ledgekv/ledgekv/internal/manifest"
	"github.com/ledgekv/ledgekv/internal/wal"
)

// numLevels mirrors the engine's fixed level count; manifestdump doesn't
// have access to db.Options, so it just assumes the default topology.
const numLevels = 7

// liveFileSet accumulates the net effect of a run of VersionEdits: the set
// of file numbers still present per level once every AddFile/DeleteFile has
// been applied in order.
type liveFileSet struct {
	byLevel []map[uint64]bool
}

func newLiveFileSet(levels int) *liveFileSet {
	s := &liveFileSet{byLevel: make([]map[uint64]bool, levels)}
	for i := range s.byLevel {
		s.byLevel[i] = make(map[uint64]bool)
	}
	return s
}

func (s *liveFileSet) apply(ve *manifest.VersionEdit) {
	for _, nf := range ve.NewFiles {
		s.byLevel[nf.Level][nf.Meta.FD.GetNumber()] = true
	}
	for _, df := range ve.DeletedFiles {
		delete(s.byLevel[df.Level], df.FileNumber)
	}
}

func (s *liveFileSet) print() {
	total := 0
	fmt.Println("\nFinal live files by level:")
	for level, files := range s.byLevel {
		if len(files) == 0 {
			continue
		}
		fmt.Printf("  Level %d: ", level)
		for fn := range files {
			fmt.Printf("%d ", fn)
		}
		fmt.Println()
		total += len(files)
	}
	fmt.Printf("Total live: %d\n", total)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: manifestdump <manifest-file>")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	reader := wal.NewStrictReader(bytes.NewReader(data), nil, 0)
	live := newLiveFileSet(numLevels)
	editCount := 0

	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("Error at edit %d: %v\n", editCount+1, err)
			break
		}

		ve := &manifest.VersionEdit{}
		if err := ve.DecodeFrom(record); err != nil {
			fmt.Printf("Decode error at edit %d: %v\n", editCount+1, err)
			continue
		}

		editCount++
		live.apply(ve)
	}

	fmt.Printf("Total edits: %d\n", editCount)
	live.print()
}
