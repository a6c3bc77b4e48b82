package core

// Hand-written MUS serializers for the record model. The shapes match what
// musgen emits: one serializer value per type with Marshal/Unmarshal/Size/
// Skip, fields encoded in declaration order, timestamps as Unix micros.

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

var (
	// StatusMUS serializes Status values.
	StatusMUS = statusMUS{}
	// StageAttemptsMUS serializes StageAttempts values.
	StageAttemptsMUS = stageAttemptsMUS{}
	// TransitionMUS serializes Transition values.
	TransitionMUS = transitionMUS{}
	// DocumentRecordMUS serializes DocumentRecord values.
	DocumentRecordMUS = documentRecordMUS{}

	metadataMUS    = ord.NewMapSer[string, string](ord.String, ord.String)
	transitionsMUS = ord.NewSliceSer[Transition](TransitionMUS)
)

type statusMUS struct{}

func (s statusMUS) Marshal(v Status, bs []byte) (n int) {
	return varint.Int.Marshal(int(v), bs)
}

func (s statusMUS) Unmarshal(bs []byte) (v Status, n int, err error) {
	i, n, err := varint.Int.Unmarshal(bs)
	return Status(i), n, err
}

func (s statusMUS) Size(v Status) (size int) {
	return varint.Int.Size(int(v))
}

func (s statusMUS) Skip(bs []byte) (n int, err error) {
	return varint.Int.Skip(bs)
}

type stageAttemptsMUS struct{}

func (s stageAttemptsMUS) Marshal(v StageAttempts, bs []byte) (n int) {
	n = varint.Int.Marshal(v.Fetch, bs)
	n += varint.Int.Marshal(v.Extract, bs[n:])
	n += varint.Int.Marshal(v.Upload, bs[n:])
	return
}

func (s stageAttemptsMUS) Unmarshal(bs []byte) (v StageAttempts, n int, err error) {
	var n1 int
	v.Fetch, n, err = varint.Int.Unmarshal(bs)
	if err != nil {
		return
	}
	v.Extract, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Upload, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	return
}

func (s stageAttemptsMUS) Size(v StageAttempts) (size int) {
	size = varint.Int.Size(v.Fetch)
	size += varint.Int.Size(v.Extract)
	size += varint.Int.Size(v.Upload)
	return
}

func (s stageAttemptsMUS) Skip(bs []byte) (n int, err error) {
	var n1 int
	n, err = varint.Int.Skip(bs)
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
	return
}

type transitionMUS struct{}

func (s transitionMUS) Marshal(v Transition, bs []byte) (n int) {
	n = StatusMUS.Marshal(v.From, bs)
	n += StatusMUS.Marshal(v.To, bs[n:])
	n += marshalTime(v.At, bs[n:])
	return
}

func (s transitionMUS) Unmarshal(bs []byte) (v Transition, n int, err error) {
	var n1 int
	v.From, n, err = StatusMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	v.To, n1, err = StatusMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.At, n1, err = unmarshalTime(bs[n:])
	n += n1
	return
}

func (s transitionMUS) Size(v Transition) (size int) {
	size = StatusMUS.Size(v.From)
	size += StatusMUS.Size(v.To)
	size += sizeTime(v.At)
	return
}

func (s transitionMUS) Skip(bs []byte) (n int, err error) {
	var n1 int
	n, err = StatusMUS.Skip(bs)
	if err != nil {
		return
	}
	n1, err = StatusMUS.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int64.Skip(bs[n:])
	n += n1
	return
}

type documentRecordMUS struct{}

func (s documentRecordMUS) Marshal(v DocumentRecord, bs []byte) (n int) {
	n = ord.String.Marshal(v.Id, bs)
	n += ord.String.Marshal(v.SourceURL, bs[n:])
	n += ord.String.Marshal(v.LocalPath, bs[n:])
	n += metadataMUS.Marshal(v.Metadata, bs[n:])
	n += varint.Uint64.Marshal(v.MetadataHash, bs[n:])
	n += ord.String.Marshal(v.ExtractedText, bs[n:])
	n += ord.String.Marshal(v.Language, bs[n:])
	n += StatusMUS.Marshal(v.Status, bs[n:])
	n += StatusMUS.Marshal(v.FailedFrom, bs[n:])
	n += ord.String.Marshal(v.FailureReason, bs[n:])
	n += StageAttemptsMUS.Marshal(v.Attempts, bs[n:])
	n += varint.Int.Marshal(v.Version, bs[n:])
	n += varint.Int.Marshal(v.ChunkCount, bs[n:])
	n += transitionsMUS.Marshal(v.Transitions, bs[n:])
	n += marshalTime(v.InsertedAt, bs[n:])
	n += marshalTime(v.UpdatedAt, bs[n:])
	return
}

func (s documentRecordMUS) Unmarshal(bs []byte) (v DocumentRecord, n int, err error) {
	var n1 int
	v.Id, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	v.SourceURL, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.LocalPath, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Metadata, n1, err = metadataMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.MetadataHash, n1, err = varint.Uint64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.ExtractedText, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Language, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Status, n1, err = StatusMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.FailedFrom, n1, err = StatusMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.FailureReason, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Attempts, n1, err = StageAttemptsMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Version, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.ChunkCount, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Transitions, n1, err = transitionsMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.InsertedAt, n1, err = unmarshalTime(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.UpdatedAt, n1, err = unmarshalTime(bs[n:])
	n += n1
	return
}

func (s documentRecordMUS) Size(v DocumentRecord) (size int) {
	size = ord.String.Size(v.Id)
	size += ord.String.Size(v.SourceURL)
	size += ord.String.Size(v.LocalPath)
	size += metadataMUS.Size(v.Metadata)
	size += varint.Uint64.Size(v.MetadataHash)
	size += ord.String.Size(v.ExtractedText)
	size += ord.String.Size(v.Language)
	size += StatusMUS.Size(v.Status)
	size += StatusMUS.Size(v.FailedFrom)
	size += ord.String.Size(v.FailureReason)
	size += StageAttemptsMUS.Size(v.Attempts)
	size += varint.Int.Size(v.Version)
	size += varint.Int.Size(v.ChunkCount)
	size += transitionsMUS.Size(v.Transitions)
	size += sizeTime(v.InsertedAt)
	size += sizeTime(v.UpdatedAt)
	return
}

func (s documentRecordMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

// Timestamps are stored as Unix micros; the zero time round-trips as 0.

func marshalTime(t time.Time, bs []byte) int {
	var micros int64
	if !t.IsZero() {
		micros = t.UnixMicro()
	}
	return varint.Int64.Marshal(micros, bs)
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	micros, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || micros == 0 {
		return time.Time{}, n, err
	}
	return time.UnixMicro(micros).UTC(), n, nil
}

func sizeTime(t time.Time) int {
	var micros int64
	if !t.IsZero() {
		micros = t.UnixMicro()
	}
	return varint.Int64.Size(micros)
}
