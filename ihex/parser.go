package ihex

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Record types.
const (
	RecordData                   = 0x00
	RecordEOF                    = 0x01
	RecordExtendedSegmentAddress = 0x02
	RecordStartSegmentAddress    = 0x03
	RecordExtendedLinearAddress  = 0x04
	RecordStartLinearAddress     = 0x05
)

// Constants for record parsing.
const (
	// StartCode begins every record
	StartCode = ':'

	// RecordHeaderSize is LEN(1) + ADDR(2) + TYPE(1)
	RecordHeaderSize = 4

	// MinimumRecordBytes is a record without data: header + checksum
	MinimumRecordBytes = RecordHeaderSize + 1
)

// record is one decoded line.
type record struct {
	typ    byte
	offset uint16
	data   []byte
}

// Parse parses an Intel HEX file from the given file path.
//
// Example:
//
//	img, err := ihex.Parse("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d bytes in %d segments\n", img.Size(), len(img.Segments))
func Parse(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader parses an Intel HEX image from any io.Reader. Parsing stops at
// the end of file record; a missing end of file record is accepted.
//
// Example:
//
//	img, err := ihex.ParseReader(strings.NewReader(hexContent))
func ParseReader(r io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(r)
	img := &Image{}

	var base uint32
	var cur *Segment
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines
		if line == "" {
			continue
		}

		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch rec.typ {
		case RecordData:
			if len(rec.data) == 0 {
				continue
			}
			addr := base + uint32(rec.offset)
			if cur == nil || uint64(addr) != cur.End() {
				cur = &Segment{Address: addr}
				img.Segments = append(img.Segments, cur)
			}
			cur.Data = append(cur.Data, rec.data...)
		case RecordEOF:
			return finish(img)
		case RecordExtendedSegmentAddress:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: extended segment address needs 2 bytes, got %d", lineNum, len(rec.data))
			}
			base = uint32(binary.BigEndian.Uint16(rec.data)) << 4
		case RecordExtendedLinearAddress:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: extended linear address needs 2 bytes, got %d", lineNum, len(rec.data))
			}
			base = uint32(binary.BigEndian.Uint16(rec.data)) << 16
		case RecordStartSegmentAddress:
			if len(rec.data) != 4 {
				return nil, fmt.Errorf("line %d: start segment address needs 4 bytes, got %d", lineNum, len(rec.data))
			}
			cs := uint32(binary.BigEndian.Uint16(rec.data))
			ip := uint32(binary.BigEndian.Uint16(rec.data[2:]))
			img.StartAddress, img.HasStart = cs<<4+ip, true
		case RecordStartLinearAddress:
			if len(rec.data) != 4 {
				return nil, fmt.Errorf("line %d: start linear address needs 4 bytes, got %d", lineNum, len(rec.data))
			}
			img.StartAddress, img.HasStart = binary.BigEndian.Uint32(rec.data), true
		default:
			return nil, fmt.Errorf("line %d: unknown record type 0x%02X", lineNum, rec.typ)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return finish(img)
}

// parseRecord decodes and checks one record line.
func parseRecord(line string) (*record, error) {
	if line[0] != StartCode {
		return nil, fmt.Errorf("record must start with '%c'", StartCode)
	}

	data, err := hex.DecodeString(line[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}

	if len(data) < MinimumRecordBytes {
		return nil, fmt.Errorf("record too short: got %d bytes, minimum is %d", len(data), MinimumRecordBytes)
	}

	n := int(data[0])
	if len(data) != MinimumRecordBytes+n {
		return nil, fmt.Errorf("data length mismatch: got %d bytes, expected %d (header=%d + data=%d + checksum=1)",
			len(data), MinimumRecordBytes+n, RecordHeaderSize, n)
	}

	if sum := Checksum(data[:len(data)-1]); sum != data[len(data)-1] {
		return nil, fmt.Errorf("checksum mismatch: got 0x%02X, expected 0x%02X", data[len(data)-1], sum)
	}

	return &record{
		typ:    data[3],
		offset: binary.BigEndian.Uint16(data[1:3]),
		data:   data[RecordHeaderSize : RecordHeaderSize+n],
	}, nil
}

// finish sorts the segments, merges adjacent ones and rejects overlaps.
func finish(img *Image) (*Image, error) {
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("no data records found")
	}

	sort.SliceStable(img.Segments, func(i, j int) bool {
		return img.Segments[i].Address < img.Segments[j].Address
	})

	merged := img.Segments[:1]
	for _, s := range img.Segments[1:] {
		last := merged[len(merged)-1]
		switch {
		case uint64(s.Address) < last.End():
			return nil, fmt.Errorf("data at 0x%08X overlaps segment 0x%08X-0x%08X",
				s.Address, last.Address, last.End()-1)
		case uint64(s.Address) == last.End():
			last.Data = append(last.Data, s.Data...)
		default:
			merged = append(merged, s)
		}
	}
	img.Segments = merged
	return img, nil
}

// Checksum computes the record checksum: the two's complement of the byte
// sum.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}
