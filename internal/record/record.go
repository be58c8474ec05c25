// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package record implements deterministic record/replay of physical
// ingress events: a Recorder appends every physical-action delivery
// to a framed binary log; a Replayer reads that log back and feeds
// the events to the scheduler with their original tags, so a run can
// be reproduced exactly.
package record

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/reactor-rt/reactors/internal/action"
	"github.com/reactor-rt/reactors/internal/tag"
)

const magic = "REACTORSREC1"

// ActionMeta describes one physical action bound into a recording, so
// a Replayer can detect a payload-type mismatch against the program
// it is replaying into.
type ActionMeta struct {
	ID       action.ID
	Name     string
	TypeHash uint64
}

// Header is the JSON preamble written once at the start of a
// recording file, before the framed event log.
type Header struct {
	Magic     string
	Version   uint16
	SessionID string
	Actions   []ActionMeta
}

// TypeHash fingerprints a value's Go type for the header's mismatch
// check. It is not a content hash: two recordings of the same action
// type always hash equal regardless of the values recorded.
func TypeHash(v any) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(reflect.TypeOf(v).String()))
	return h.Sum64()
}

type frame struct {
	ActionID  uint32
	Offset    int64
	Microstep uint32
	Value     any
}

// Recorder appends physical-action events to a log file as they
// arrive at the ingress, each framed with a 4-byte length prefix.
type Recorder struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// NewRecorder creates path and writes its header, identifying the
// recording with a fresh UUIDv7 session id.
func NewRecorder(path string, actions []ActionMeta) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record: create %s: %w", path, err)
	}
	hdr := Header{
		Magic:     magic,
		Version:   1,
		SessionID: uuid.Must(uuid.NewV7()).String(),
		Actions:   actions,
	}
	line, err := json.Marshal(hdr)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("record: marshal header: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := writeLenPrefixed(w, line); err != nil {
		f.Close()
		return nil, err
	}
	return &Recorder{f: f, w: w}, nil
}

// Record appends one physical-action delivery at the given tag.
func (r *Recorder) Record(id action.ID, tg tag.Tag, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var buf bytes.Buffer
	fr := frame{ActionID: uint32(id), Offset: int64(tg.Offset), Microstep: tg.Microstep, Value: value}
	if err := gob.NewEncoder(&buf).Encode(fr); err != nil {
		return fmt.Errorf("record: encode frame: %w", err)
	}
	return writeLenPrefixed(r.w, buf.Bytes())
}

// Flush flushes buffered frames to the underlying file without
// closing it.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.Flush()
}

// Close flushes and closes the recording file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

func writeLenPrefixed(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("record: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("record: write frame: %w", err)
	}
	return nil
}

// Event is one recorded physical-action delivery read back by a
// Replayer, restamped to its original recording-time tag.
type Event struct {
	Action action.ID
	Tag    tag.Tag
	Value  any
}

// ErrTypeMismatch is returned by NewReplayer when the recording's
// action type table does not match the program being replayed into.
type ErrTypeMismatch struct {
	Action action.ID
	Want   uint64
	Got    uint64
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("record: action %d type hash mismatch: recording has %x, program has %x", e.Action, e.Want, e.Got)
}

// Replayer reads a recording file back in order, validating that its
// action type table matches the program it is replaying into.
type Replayer struct {
	f      *os.File
	r      *bufio.Reader
	Header Header
}

// NewReplayer opens path and validates its header against
// currentActionTypes, the type hash each action id currently resolves
// to in the program being replayed into.
func NewReplayer(path string, currentActionTypes map[action.ID]uint64) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	r := bufio.NewReader(f)
	line, err := readLenPrefixed(r)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("record: read header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(line, &hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("record: unmarshal header: %w", err)
	}
	if hdr.Magic != magic {
		f.Close()
		return nil, fmt.Errorf("record: %s is not a reactors recording", path)
	}
	for _, am := range hdr.Actions {
		if want, ok := currentActionTypes[am.ID]; ok && want != am.TypeHash {
			f.Close()
			return nil, &ErrTypeMismatch{Action: am.ID, Want: am.TypeHash, Got: want}
		}
	}
	return &Replayer{f: f, r: r, Header: hdr}, nil
}

// Next returns the next recorded event, or io.EOF once the recording
// is exhausted.
func (r *Replayer) Next() (Event, error) {
	line, err := readLenPrefixed(r.r)
	if err != nil {
		return Event{}, err
	}
	var fr frame
	if err := gob.NewDecoder(bytes.NewReader(line)).Decode(&fr); err != nil {
		return Event{}, fmt.Errorf("record: decode frame: %w", err)
	}
	return Event{
		Action: action.ID(fr.ActionID),
		Tag:    tag.Tag{Offset: tag.Duration(fr.Offset), Microstep: fr.Microstep},
		Value:  fr.Value,
	}, nil
}

// Close closes the recording file.
func (r *Replayer) Close() error { return r.f.Close() }

func readLenPrefixed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("record: read frame body: %w", err)
	}
	return buf, nil
}
