// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package attstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/compress"
)

func fixed8(no colstore.AttrNo) Attr { return Attr{No: no, Len: 8, ByVal: true} }
func varlen(no colstore.AttrNo) Attr { return Attr{No: no, Len: -1} }

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func TestEncodeDecodeFixed(t *testing.T) {
	attr := fixed8(1)
	var run []Element
	for i := 0; i < 300; i++ {
		run = append(run, Element{RowID: colstore.RowID(i*3 + 1), Value: u64(uint64(i))})
	}

	stream := EncodeElements(attr, run)
	got, err := Decode(attr, stream, compress.None{})
	require.NoError(t, err)
	require.Len(t, got, len(run))
	for i := range run {
		require.Equal(t, run[i].RowID, got[i].RowID)
		require.Equal(t, run[i].Value, got[i].Value)
		require.False(t, got[i].Null)
	}
}

func TestEncodeDecodeVarlenWithNulls(t *testing.T) {
	attr := varlen(2)
	run := []Element{
		{RowID: 10, Value: []byte("a")},
		{RowID: 11, Null: true},
		{RowID: 12, Value: []byte("ccc")},
	}

	stream := EncodeElements(attr, run)
	got, err := Decode(attr, stream, compress.None{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.Equal(t, colstore.RowID(10), got[0].RowID)
	require.Equal(t, []byte("a"), got[0].Value)
	require.True(t, got[1].Null)
	require.Equal(t, colstore.RowID(11), got[1].RowID)
	require.Equal(t, []byte("ccc"), got[2].Value)
}

func TestChunkContinuity(t *testing.T) {
	attr := fixed8(1)
	var run []Element
	for i := 0; i < 1000; i++ {
		run = append(run, Element{RowID: colstore.RowID(i + 1), Value: u64(uint64(i))})
	}
	stream := EncodeElements(attr, run)

	var dec Decoder
	require.NoError(t, dec.Begin(attr, stream, compress.None{}))

	prev := colstore.InvalidRowID
	chunks := 0
	for {
		chunk, ok, err := dec.NextChunk()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Equal(t, prev, chunk.Prev)
		require.Greater(t, chunk.First, prev)
		require.GreaterOrEqual(t, chunk.Last, chunk.First)
		prev = chunk.Last
		chunks++
	}
	if chunks < 2 {
		t.Fatalf("want multiple chunks for 1000 elements, got %d", chunks)
	}
	require.Equal(t, colstore.RowID(1000), LastRowID(stream))
}

func TestCompressRoundTrip(t *testing.T) {
	attr := varlen(3)
	var run []Element
	for i := 0; i < 200; i++ {
		run = append(run, Element{
			RowID: colstore.RowID(i + 1),
			Value: bytes.Repeat([]byte{'x'}, 50),
		})
	}
	plain := EncodeElements(attr, run)

	stream, err := Compress(plain, compress.S2{})
	require.NoError(t, err)
	require.True(t, IsCompressed(stream))
	require.Less(t, len(stream), len(plain))
	require.Equal(t, LastRowID(plain), LastRowID(stream))

	got, err := Decode(attr, stream, compress.S2{})
	require.NoError(t, err)
	require.Len(t, got, len(run))
	require.Equal(t, run[0].Value, got[0].Value)
	require.Equal(t, run[199].Value, got[199].Value)
}

func TestCompressKeepsIncompressible(t *testing.T) {
	attr := fixed8(1)
	plain := EncodeElements(attr, []Element{{RowID: 1, Value: u64(0xdeadbeef)}})

	stream, err := Compress(plain, compress.S2{})
	require.NoError(t, err)
	if IsCompressed(stream) {
		t.Fatal("tiny stream should stay uncompressed")
	}
	require.Equal(t, plain, stream)
}

func TestAppendFastPath(t *testing.T) {
	attr := varlen(1)
	stream := EncodeElements(attr, []Element{
		{RowID: 1, Value: []byte("one")},
		{RowID: 5, Value: []byte("five")},
	})

	grown, err := Append(attr, stream, []Element{{RowID: 9, Value: []byte("nine")}})
	require.NoError(t, err)
	require.Equal(t, colstore.RowID(9), LastRowID(grown))

	got, err := Decode(attr, grown, compress.None{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []byte("nine"), got[2].Value)

	// appending behind the last row id is not an append
	_, err = Append(attr, grown, []Element{{RowID: 2}})
	require.Error(t, err)
}

func TestEncodeReplacesDuplicate(t *testing.T) {
	attr := varlen(1)
	stream := EncodeElements(attr, []Element{
		{RowID: 1, Value: []byte("old")},
		{RowID: 2, Value: []byte("keep")},
	})

	merged, err := Encode(attr, stream, []Element{{RowID: 1, Value: []byte("new")}}, compress.None{})
	require.NoError(t, err)

	got, err := Decode(attr, merged, compress.None{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []byte("new"), got[0].Value)
	require.Equal(t, []byte("keep"), got[1].Value)
}

func TestFind(t *testing.T) {
	attr := fixed8(1)
	var run []Element
	for i := 0; i < 500; i++ {
		run = append(run, Element{RowID: colstore.RowID(i*2 + 2), Value: u64(uint64(i))})
	}
	stream := EncodeElements(attr, run)

	elem, found, err := Find(attr, stream, compress.None{}, 500)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, u64(249), elem.Value)

	_, found, err = Find(attr, stream, compress.None{}, 501)
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = Find(attr, stream, compress.None{}, 100000)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCountElements(t *testing.T) {
	attr := varlen(1)
	var run []Element
	for i := 0; i < 321; i++ {
		run = append(run, Element{RowID: colstore.RowID(i + 1), Value: []byte(fmt.Sprint(i))})
	}
	stream := EncodeElements(attr, run)

	n, err := CountElements(attr, stream)
	require.NoError(t, err)
	require.Equal(t, 321, n)

	compressed, err := Compress(stream, compress.S2{})
	require.NoError(t, err)
	if IsCompressed(compressed) {
		_, err = CountElements(attr, compressed)
		require.Error(t, err)
	}
}

func TestEncodeRejectsUnorderedRun(t *testing.T) {
	attr := varlen(1)
	_, err := Encode(attr, nil, []Element{{RowID: 5}, {RowID: 5}}, compress.None{})
	if err == nil {
		t.Fatal("want error for non-increasing run")
	}
}

func TestDecodeRejectsCorruptHeader(t *testing.T) {
	attr := varlen(1)
	stream := EncodeElements(attr, []Element{{RowID: 1, Value: []byte("v")}})
	stream = stream[:HeaderSize-2]

	_, err := Decode(attr, stream, compress.None{})
	if err == nil {
		t.Fatal("want error for truncated header")
	}
}
