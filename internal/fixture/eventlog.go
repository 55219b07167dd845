package fixture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// EventRecord is one entry of a call event log
type EventRecord struct {
	At     time.Time
	Type   string
	Fields map[string]any
}

// eventLog writes call events as pairs of length-delimited protobuf
// messages: a Timestamp followed by a Struct holding the type and fields.
// A nil *eventLog discards everything.
type eventLog struct {
	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	err error
}

func openEventLog(path string) (*eventLog, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}
	return &eventLog{f: f, w: bufio.NewWriter(f)}, nil
}

// Log appends a record. The first write error sticks and is returned by
// Close.
func (l *eventLog) Log(at time.Time, typ string, fields map[string]any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}

	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["type"] = typ
	msg, err := structpb.NewStruct(body)
	if err != nil {
		l.err = fmt.Errorf("failed to encode %s event: %w", typ, err)
		return
	}
	if _, err := protodelim.MarshalTo(l.w, timestamppb.New(at)); err != nil {
		l.err = err
		return
	}
	if _, err := protodelim.MarshalTo(l.w, msg); err != nil {
		l.err = err
	}
}

func (l *eventLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.err
	if ferr := l.w.Flush(); err == nil {
		err = ferr
	}
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadEventLog decodes an event log written by a fixture
func ReadEventLog(r io.Reader) ([]EventRecord, error) {
	br := bufio.NewReader(r)
	var records []EventRecord
	for {
		ts := &timestamppb.Timestamp{}
		if err := protodelim.UnmarshalFrom(br, ts); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("failed to read event time: %w", err)
		}
		body := &structpb.Struct{}
		if err := protodelim.UnmarshalFrom(br, body); err != nil {
			return records, fmt.Errorf("failed to read event body: %w", err)
		}
		fields := body.AsMap()
		typ, _ := fields["type"].(string)
		delete(fields, "type")
		records = append(records, EventRecord{At: ts.AsTime(), Type: typ, Fields: fields})
	}
}
