package encoding

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// pageSizeKB is the fixed page size used when building tables; real CDN
// tables commonly use 4KB pages.
const pageSizeKB = 4

// Build constructs a serialized Encoding table from flat entry lists,
// choosing a page layout of pageSizeKB-sized pages. It's the counterpart
// to Parse, used by tests to build tables.
func Build(especs []string, ceEntries []CEKeyEntry, ekEntries []EKeySpecEntry) ([]byte, error) {
	var especBlock bytes.Buffer
	for _, s := range especs {
		especBlock.WriteString(s)
		especBlock.WriteByte(0)
	}
	for especBlock.Len()%8 != 0 {
		especBlock.WriteByte(0)
	}

	ckeyPages, ckeyHeaders, err := packCEKeyPages(ceEntries)
	if err != nil {
		return nil, err
	}
	ekeyPages, ekeyHeaders, err := packEKeySpecPages(ekEntries)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteByte(magicByte0)
	out.WriteByte(magicByte1)
	out.WriteByte(1) // version
	out.WriteByte(16) // hash_size_ckey
	out.WriteByte(16) // hash_size_ekey
	writeUint16BE(&out, pageSizeKB)
	writeUint16BE(&out, pageSizeKB)
	writeUint32BE(&out, uint32(len(ckeyPages)))
	writeUint32BE(&out, uint32(len(ekeyPages)))
	out.WriteByte(0)
	writeUint32BE(&out, uint32(especBlock.Len()))
	out.Write(especBlock.Bytes())

	for _, h := range ckeyHeaders {
		out.Write(h.FirstKey[:])
		out.Write(h.PageMD5[:])
	}
	for _, p := range ckeyPages {
		out.Write(p)
	}
	for _, h := range ekeyHeaders {
		out.Write(h.FirstKey[:])
		out.Write(h.PageMD5[:])
	}
	for _, p := range ekeyPages {
		out.Write(p)
	}

	return out.Bytes(), nil
}

func packCEKeyPages(entries []CEKeyEntry) ([][]byte, []PageHeader, error) {
	pageSize := pageSizeKB * 1024
	var pages [][]byte
	var headers []PageHeader
	var cur bytes.Buffer
	var firstKey [16]byte
	haveFirst := false

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		buf := make([]byte, pageSize)
		copy(buf, cur.Bytes())
		sum := md5.Sum(buf)
		pages = append(pages, buf)
		headers = append(headers, PageHeader{FirstKey: firstKey, PageMD5: sum})
		cur.Reset()
		haveFirst = false
	}

	for _, e := range entries {
		var rec bytes.Buffer
		rec.WriteByte(byte(len(e.EKeys)))
		writeUintBE(&rec, e.FileSize, 5)
		rec.Write(e.CKey[:])
		for _, ek := range e.EKeys {
			rec.Write(ek[:])
		}
		if cur.Len()+rec.Len() > pageSize {
			flush()
		}
		if !haveFirst {
			firstKey = e.CKey
			haveFirst = true
		}
		cur.Write(rec.Bytes())
	}
	flush()
	return pages, headers, nil
}

func packEKeySpecPages(entries []EKeySpecEntry) ([][]byte, []PageHeader, error) {
	pageSize := pageSizeKB * 1024
	recSize := 16 + 4 + 5
	perPage := pageSize / recSize
	var pages [][]byte
	var headers []PageHeader

	for i := 0; i < len(entries); i += perPage {
		end := i + perPage
		if end > len(entries) {
			end = len(entries)
		}
		var cur bytes.Buffer
		for _, e := range entries[i:end] {
			cur.Write(e.EKey[:])
			writeUint32BE(&cur, e.EspecIndex)
			writeUintBE(&cur, e.FileSize, 5)
		}
		buf := make([]byte, pageSize)
		copy(buf, cur.Bytes())
		sum := md5.Sum(buf)
		pages = append(pages, buf)
		headers = append(headers, PageHeader{FirstKey: entries[i].EKey, PageMD5: sum})
	}
	return pages, headers, nil
}

func writeUint16BE(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32BE(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUintBE(buf *bytes.Buffer, v uint64, width int) {
	if width > 8 {
		panic(fmt.Sprintf("encoding: writeUintBE width %d too large", width))
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[8-width:])
}
