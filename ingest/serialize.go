package ingest

import (
	"github.com/mus-format/mus-go/ord"

	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/docintel"
)

// marshalJobRecord serializes a job record: job, document, then handle.
func marshalJobRecord(rec *JobRecord) []byte {
	size := core.IngestionJobMUS.Size(rec.Job) +
		core.DocumentMUS.Size(rec.Document) +
		ord.String.Size(string(rec.Handle))
	buf := make([]byte, size)

	n := core.IngestionJobMUS.Marshal(rec.Job, buf)
	n += core.DocumentMUS.Marshal(rec.Document, buf[n:])
	ord.String.Marshal(string(rec.Handle), buf[n:])

	return buf
}

// unmarshalJobRecord deserializes a job record from bytes.
func unmarshalJobRecord(data []byte) (*JobRecord, error) {
	job, n, err := core.IngestionJobMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	doc, n1, err := core.DocumentMUS.Unmarshal(data[n:])
	if err != nil {
		return nil, err
	}
	n += n1
	handle, _, err := ord.String.Unmarshal(data[n:])
	if err != nil {
		return nil, err
	}

	return &JobRecord{Job: job, Document: doc, Handle: docintel.JobHandle(handle)}, nil
}
