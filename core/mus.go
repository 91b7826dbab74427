package core

import (
	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the records persisted in the job store.
// Field order is part of the on-disk format; append new fields, never reorder.
var (
	JobMUS            mus.Serializer[Job]            = jobMUS{}
	DocumentResultMUS mus.Serializer[DocumentResult] = documentResultMUS{}
	ChunkMUS          mus.Serializer[Chunk]          = chunkMUS{}
	DocumentMUS       mus.Serializer[Document]       = documentMUS{}
)

var (
	chunkSliceMUS = ord.NewSliceSer[Chunk](ChunkMUS)
	metadataMUS   = ord.NewMapSer[string, string](ord.String, ord.String)
)

type jobMUS struct{}

func (jobMUS) Marshal(v Job, bs []byte) (n int) {
	n = ord.String.Marshal(v.Id, bs)
	n += ord.String.Marshal(v.BotId, bs[n:])
	n += varint.Int.Marshal(int(v.Status), bs[n:])
	n += varint.Int.Marshal(v.DocumentCount, bs[n:])
	n += ord.Bool.Marshal(v.CancelRequested, bs[n:])
	n += ord.String.Marshal(v.Error, bs[n:])
	n += raw.TimeUnixMilli.Marshal(v.CreatedAt, bs[n:])
	n += raw.TimeUnixMilli.Marshal(v.StartedAt, bs[n:])
	n += raw.TimeUnixMilli.Marshal(v.UpdatedAt, bs[n:])
	n += raw.TimeUnixMilli.Marshal(v.CompletedAt, bs[n:])
	return n
}

func (jobMUS) Unmarshal(bs []byte) (v Job, n int, err error) {
	var n1 int
	v.Id, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	v.BotId, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	var status int
	status, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Status = JobStatus(status)
	v.DocumentCount, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.CancelRequested, n1, err = ord.Bool.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Error, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.CreatedAt, n1, err = raw.TimeUnixMilli.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.StartedAt, n1, err = raw.TimeUnixMilli.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.UpdatedAt, n1, err = raw.TimeUnixMilli.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.CompletedAt, n1, err = raw.TimeUnixMilli.Unmarshal(bs[n:])
	n += n1
	return
}

func (jobMUS) Size(v Job) (size int) {
	size = ord.String.Size(v.Id)
	size += ord.String.Size(v.BotId)
	size += varint.Int.Size(int(v.Status))
	size += varint.Int.Size(v.DocumentCount)
	size += ord.Bool.Size(v.CancelRequested)
	size += ord.String.Size(v.Error)
	size += raw.TimeUnixMilli.Size(v.CreatedAt)
	size += raw.TimeUnixMilli.Size(v.StartedAt)
	size += raw.TimeUnixMilli.Size(v.UpdatedAt)
	size += raw.TimeUnixMilli.Size(v.CompletedAt)
	return size
}

func (jobMUS) Skip(bs []byte) (n int, err error) {
	var n1 int
	n, err = ord.String.Skip(bs)
	if err != nil {
		return
	}
	n1, err = ord.String.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = ord.Bool.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = ord.String.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	for range 4 {
		n1, err = raw.TimeUnixMilli.Skip(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

type chunkMUS struct{}

func (chunkMUS) Marshal(v Chunk, bs []byte) (n int) {
	n = varint.Int.Marshal(v.Index, bs)
	n += ord.String.Marshal(v.Text, bs[n:])
	return n
}

func (chunkMUS) Unmarshal(bs []byte) (v Chunk, n int, err error) {
	var n1 int
	v.Index, n, err = varint.Int.Unmarshal(bs)
	if err != nil {
		return
	}
	v.Text, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	return
}

func (chunkMUS) Size(v Chunk) int {
	return varint.Int.Size(v.Index) + ord.String.Size(v.Text)
}

func (chunkMUS) Skip(bs []byte) (n int, err error) {
	var n1 int
	n, err = varint.Int.Skip(bs)
	if err != nil {
		return
	}
	n1, err = ord.String.Skip(bs[n:])
	n += n1
	return
}

type documentMUS struct{}

func (documentMUS) Marshal(v Document, bs []byte) (n int) {
	n = ord.String.Marshal(v.ContentKey, bs)
	n += metadataMUS.Marshal(v.Metadata, bs[n:])
	n += chunkSliceMUS.Marshal(v.Chunks, bs[n:])
	return n
}

func (documentMUS) Unmarshal(bs []byte) (v Document, n int, err error) {
	var n1 int
	v.ContentKey, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	v.Metadata, n1, err = metadataMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Chunks, n1, err = chunkSliceMUS.Unmarshal(bs[n:])
	n += n1
	return
}

func (documentMUS) Size(v Document) (size int) {
	size = ord.String.Size(v.ContentKey)
	size += metadataMUS.Size(v.Metadata)
	size += chunkSliceMUS.Size(v.Chunks)
	return size
}

func (documentMUS) Skip(bs []byte) (n int, err error) {
	var n1 int
	n, err = ord.String.Skip(bs)
	if err != nil {
		return
	}
	n1, err = metadataMUS.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = chunkSliceMUS.Skip(bs[n:])
	n += n1
	return
}

type documentResultMUS struct{}

func (documentResultMUS) Marshal(v DocumentResult, bs []byte) (n int) {
	n = ord.String.Marshal(v.ContentKey, bs)
	n += varint.Int64.Marshal(v.DocId, bs[n:])
	n += ord.Bool.Marshal(v.Success, bs[n:])
	n += ord.String.Marshal(v.Error, bs[n:])
	n += varint.Int.Marshal(v.ChunkCount, bs[n:])
	return n
}

func (documentResultMUS) Unmarshal(bs []byte) (v DocumentResult, n int, err error) {
	var n1 int
	v.ContentKey, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	v.DocId, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Success, n1, err = ord.Bool.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Error, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.ChunkCount, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	return
}

func (documentResultMUS) Size(v DocumentResult) (size int) {
	size = ord.String.Size(v.ContentKey)
	size += varint.Int64.Size(v.DocId)
	size += ord.Bool.Size(v.Success)
	size += ord.String.Size(v.Error)
	size += varint.Int.Size(v.ChunkCount)
	return size
}

func (documentResultMUS) Skip(bs []byte) (n int, err error) {
	var n1 int
	n, err = ord.String.Skip(bs)
	if err != nil {
		return
	}
	n1, err = varint.Int64.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = ord.Bool.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = ord.String.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int.Skip(bs[n:])
	n += n1
	return
}
