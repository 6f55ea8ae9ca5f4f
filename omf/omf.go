// Package omf loads Motorola OMF text images into DSP memory: an
// external collaborator (spec.md §6), not imported by package jit,
// used by test harnesses and embedders that want to populate X/Y/P
// memory before handing a dsp.Memory to the JIT.
//
// Grounded on
// _examples/original_source/source/dsp56kEmu/omfloader.cpp's record
// format (`_DATA X|Y|P|L <addr>` header lines followed by
// whitespace-separated 6-hex-digit words, an L record writing the
// same target address into both X and Y), tokenized the line-oriented
// way _examples/tinyrange-rtg/std/compiler/parser.go scans its own
// source: one line at a time, small fixed lookahead, no
// parser-generator library.
package omf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dsp56300/jitcore/dsp"
)

const dataTag = "_DATA "

// Load reads an OMF text stream, writing every decoded word into dst
// via dst.Set. It returns the number of words written, or an error on
// a malformed record (non-hex word, missing area tag, truncated line).
func Load(r io.Reader, dst dsp.Memory) (int, error) {
	scanner := bufio.NewScanner(r)
	var area dsp.MemArea
	var bitSize int
	var addr dsp.TWord
	active := false
	written := 0

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line[0] == '_' {
			if !strings.HasPrefix(line, dataTag) {
				active = false
				continue
			}
			var err error
			area, bitSize, addr, err = parseDataHeader(line)
			if err != nil {
				return written, err
			}
			active = true
			continue
		}
		if !active {
			continue
		}
		n, err := parseDataLine(line, bitSize, area, addr, dst)
		if err != nil {
			return written, err
		}
		addr += dsp.TWord(n)
		written += n
	}
	if err := scanner.Err(); err != nil {
		return written, fmt.Errorf("omf: reading input: %w", err)
	}
	return written, nil
}

// parseDataHeader decodes "_DATA X 001234" (or Y/P/L) into an area, a
// record bit width (24 for X/Y/P, 48 for L) and the starting address.
func parseDataHeader(line string) (dsp.MemArea, int, dsp.TWord, error) {
	if len(line) < len(dataTag)+1 {
		return 0, 0, 0, fmt.Errorf("omf: malformed _DATA header %q", line)
	}
	kind := line[len(dataTag)]
	rest := strings.TrimSpace(line[len(dataTag)+1:])
	addr64, err := strconv.ParseUint(rest, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("omf: bad _DATA address in %q: %w", line, err)
	}
	addr := dsp.TWord(addr64)
	switch kind {
	case 'X':
		return dsp.AreaX, 24, addr, nil
	case 'Y':
		return dsp.AreaY, 24, addr, nil
	case 'P':
		return dsp.AreaP, 24, addr, nil
	case 'L':
		// L records always target X and Y in lockstep; the area value
		// returned here is unused by the 48-bit path in parseDataLine.
		return dsp.AreaX, 48, addr, nil
	default:
		return 0, 0, 0, fmt.Errorf("omf: unknown memory area %q in %q", string(kind), line)
	}
}

// parseDataLine decodes one line of whitespace-separated hex words
// against the current record width, writing each through dst.Set and
// returning how many target addresses it advanced.
func parseDataLine(line string, bitSize int, area dsp.MemArea, addr dsp.TWord, dst dsp.Memory) (int, error) {
	fields := strings.Fields(line)
	switch bitSize {
	case 24:
		for i, f := range fields {
			w, err := parseHexWord(f)
			if err != nil {
				return i, err
			}
			dst.Set(area, addr+dsp.TWord(i), w)
		}
		return len(fields), nil
	case 48:
		if len(fields)%2 != 0 {
			return 0, fmt.Errorf("omf: L record has an odd word count in %q", line)
		}
		for i := 0; i < len(fields); i += 2 {
			hi, err := parseHexWord(fields[i])
			if err != nil {
				return i / 2, err
			}
			lo, err := parseHexWord(fields[i+1])
			if err != nil {
				return i / 2, err
			}
			target := addr + dsp.TWord(i/2)
			dst.Set(dsp.AreaX, target, hi)
			dst.Set(dsp.AreaY, target, lo)
		}
		return len(fields) / 2, nil
	default:
		return 0, fmt.Errorf("omf: unsupported record width %d", bitSize)
	}
}

func parseHexWord(tok string) (dsp.TWord, error) {
	if len(tok) != 6 {
		return 0, fmt.Errorf("omf: word %q is not 6 hex digits", tok)
	}
	v, err := strconv.ParseUint(tok, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("omf: bad hex word %q: %w", tok, err)
	}
	return dsp.TWord(v), nil
}
