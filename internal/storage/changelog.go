package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"github.com/rs/zerolog"

	"schoolroster/internal/model"
)

type changelogFlusher struct {
	activeSegment  *os.File
	seqNumber      uint64
	buffer         bytes.Buffer
	maxBufferBytes int
}

type changelogMsg struct {
	data         []byte
	bufferedDone chan error
}

type ChangelogCfg struct {
	Path           string
	EnqueueTimeout time.Duration
	FlushInterval  time.Duration
	MaxPending     int
	BufferBytes    int
}

/*
Channel-backed append flow keeps a single writer goroutine in charge of the log:
- Ordering: channel preserves request order; single goroutine owns the file handle.
- Simplicity: avoids mutexes; only the writer goroutine touches the buffer/file.
- Backpressure: bounded channel + timeout lets callers fail fast instead of unbounded queueing.
- Durability handshake: per-request done channel lets callers wait for the record to be accepted.
- Shutdown: select on context to flush outstanding data before exit without racing writers.
*/
type Changelog struct {
	flusher       changelogFlusher
	writerChannel chan changelogMsg
	cfg           ChangelogCfg
	flushT        *time.Ticker
	logger        zerolog.Logger
}

const (
	payloadLenBytes            = 4
	checksumBytes              = 4
	seqNumBytes                = 8
	opTypeBytes                = 1
	versionBytes               = 8
	lenFieldSize               = 4
	defaultChangelogBufferSize = 4 * 1024 * 1024
	minimalChangelogBufferSize = 128
	defaultMaxPendingRecords   = 1024
)

func NewChangelog(ctx context.Context, cfg ChangelogCfg, logger zerolog.Logger) (*Changelog, context.CancelFunc, error) {
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	seqNumber := latestSeqNum(f)

	bufferBytes := cfg.BufferBytes
	if bufferBytes <= 0 {
		bufferBytes = defaultChangelogBufferSize
	}
	if bufferBytes < minimalChangelogBufferSize {
		bufferBytes = minimalChangelogBufferSize
	}

	maxQueue := cfg.MaxPending
	if maxQueue <= 0 {
		maxQueue = defaultMaxPendingRecords
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 500 * time.Millisecond
	}

	c := &Changelog{
		cfg:           cfg,
		writerChannel: make(chan changelogMsg, maxQueue),
		flushT:        time.NewTicker(cfg.FlushInterval),
		logger:        logger,
		flusher: changelogFlusher{
			activeSegment:  f,
			seqNumber:      seqNumber,
			buffer:         bytes.Buffer{},
			maxBufferBytes: bufferBytes,
		},
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		c.run(runCtx)
		c.flushT.Stop()
		c.flusher.flush()
		_ = c.flusher.activeSegment.Close()
	}()
	return c, cancel, nil
}

// Append writes one change record durably to the log. Assigns the sequence
// number before encoding. Callers are expected to serialize appends for one
// store (the memstore holds its lock across the call), which keeps sequence
// assignment race-free.
func (c *Changelog) Append(rec model.ChangeRecord) error {
	rec.Sequence = c.flusher.seqNumber

	encoded := encodeRecord(rec)
	msg := changelogMsg{data: encoded, bufferedDone: make(chan error, 1)}
	select {
	case c.writerChannel <- msg:
		// Wait until the record is buffered by the writer goroutine.
		err := <-msg.bufferedDone
		if err == nil {
			// Increment sequence number only on successful buffer write.
			c.flusher.seqNumber++
		}
		return err

	case <-time.After(c.cfg.EnqueueTimeout):
		return errors.New("timeout waiting for record to be added to changelog")
	}
}

// Load reads the whole changelog to rebuild the change history.
// Stops at the first corrupted or truncated record (crash-safe boundary).
func (c *Changelog) Load() []model.ChangeRecord {
	records := make([]model.ChangeRecord, 0)

	// Reopen file for reading (current handle is write-only).
	readFile, err := os.Open(c.cfg.Path)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to open changelog for reading")
		return records
	}
	defer readFile.Close()

	fileInfo, err := readFile.Stat()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to stat changelog")
		return records
	}
	fileSize := fileInfo.Size()

	if fileSize == 0 {
		return records
	}

	var offset int64 = 0
	recordNum := 0

	for offset < fileSize {
		if offset+payloadLenBytes > fileSize {
			c.logger.Warn().Int("record", recordNum).Int64("offset", offset).Msg("truncated: incomplete payload length")
			break
		}

		lenBytes, err := readAt(readFile, offset, payloadLenBytes)
		if err != nil || len(lenBytes) < payloadLenBytes {
			c.logger.Warn().Err(err).Int64("offset", offset).Msg("short read for payload length")
			break
		}
		payloadLen := binary.BigEndian.Uint32(lenBytes)
		offset += payloadLenBytes

		if offset+checksumBytes > fileSize {
			c.logger.Warn().Int("record", recordNum).Int64("offset", offset).Msg("truncated: incomplete checksum")
			break
		}

		crcBytes, err := readAt(readFile, offset, checksumBytes)
		if err != nil || len(crcBytes) < checksumBytes {
			c.logger.Warn().Err(err).Int64("offset", offset).Msg("short read for checksum")
			break
		}
		expectedChecksum := binary.BigEndian.Uint32(crcBytes)
		offset += checksumBytes

		if offset+int64(payloadLen) > fileSize {
			c.logger.Warn().Int("record", recordNum).Int64("offset", offset).Uint32("expected_bytes", payloadLen).Msg("truncated: incomplete payload")
			break
		}

		payload, err := readAt(readFile, offset, int(payloadLen))
		if err != nil || len(payload) < int(payloadLen) {
			c.logger.Warn().Err(err).Int64("offset", offset).Msg("short read for payload")
			break
		}
		offset += int64(payloadLen)

		actualChecksum := crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli))
		if actualChecksum != expectedChecksum {
			c.logger.Warn().Int("record", recordNum).Uint32("expected", expectedChecksum).Uint32("actual", actualChecksum).Msg("CRC mismatch, stopping at corruption boundary")
			break
		}

		rec, err := decodePayload(payload)
		if err != nil {
			c.logger.Warn().Err(err).Int("record", recordNum).Msg("failed to decode record, stopping")
			break
		}

		records = append(records, rec)
		recordNum++
	}

	c.logger.Info().Int("records", len(records)).Int64("file_size", fileSize).Msg("loaded changelog")
	return records
}

func (c *Changelog) run(ctx context.Context) {
	for {
		select {
		case msg := <-c.writerChannel:
			err := c.flusher.write(msg.data)
			msg.bufferedDone <- err
		case <-c.flushT.C:
			if err := c.flusher.flush(); err != nil {
				c.logger.Error().Err(err).Msg("changelog periodic flush error")
			}
		case <-ctx.Done():
			c.logger.Info().Msg("changelog shutting down, flushing active segment")
			if err := c.flusher.flush(); err != nil {
				c.logger.Error().Err(err).Msg("changelog shutdown flush error")
			}
			return
		}
	}
}

func (f *changelogFlusher) write(data []byte) error {
	if f.activeSegment == nil {
		return errors.New("no active segment")
	}

	if len(data) > f.maxBufferBytes {
		return fmt.Errorf("changelog record (%d bytes) exceeds buffer size (%d bytes)", len(data), f.maxBufferBytes)
	}

	if f.buffer.Len()+len(data) > f.maxBufferBytes {
		if err := f.flush(); err != nil {
			return err
		}
	}

	_, err := f.buffer.Write(data)
	return err
}

func (f *changelogFlusher) flush() error {
	if f.activeSegment == nil {
		return errors.New("no active segment")
	}
	if f.buffer.Len() == 0 {
		return nil
	}

	if err := writeAll(f.activeSegment, f.buffer.Bytes()); err != nil {
		return err
	}
	err := f.activeSegment.Sync()
	if err == nil {
		f.buffer.Reset()
	}
	return err
}

func latestSeqNum(f *os.File) uint64 {
	// Reopen for reading (f is opened write-only in NewChangelog).
	readFile, err := os.Open(f.Name())
	if err != nil {
		return 0
	}
	defer readFile.Close()

	fileInfo, err := readFile.Stat()
	if err != nil || fileInfo.Size() == 0 {
		return 0
	}

	var latestSeq uint64 = 0
	var offset int64 = 0
	fileSize := fileInfo.Size()

	for offset < fileSize {
		lenBytes, err := readAt(readFile, offset, payloadLenBytes)
		if err != nil || len(lenBytes) < payloadLenBytes {
			break
		}
		payloadLen := binary.BigEndian.Uint32(lenBytes)
		offset += payloadLenBytes + checksumBytes

		if offset+seqNumBytes > fileSize {
			break
		}
		seqBytes, err := readAt(readFile, offset, seqNumBytes)
		if err != nil || len(seqBytes) < seqNumBytes {
			break
		}
		latestSeq = binary.BigEndian.Uint64(seqBytes)

		offset += int64(payloadLen)
	}

	return latestSeq + 1
}

/*
Return the encoded changelog record. Layout:

| PayloadLength | CRC32C | Sequence | Op     | Version | IDLen  | SchoolID | DataLen | Data    |
|---------------|--------|----------|--------|---------|--------|----------|---------|---------|
| 4 bytes       | 4 bytes| 8 bytes  | 1 byte | 8 bytes | 4 bytes| I bytes  | 4 bytes | D bytes |

The encoding process:
 1. Build the payload ("Sequence" through "Data").
 2. Compute CRC32C over the payload.
 3. Prefix with payload length + CRC for framing and corruption detection.
*/
func encodeRecord(rec model.ChangeRecord) []byte {
	id := []byte(rec.SchoolID)
	payload := make([]byte, 0, seqNumBytes+opTypeBytes+versionBytes+lenFieldSize+len(id)+lenFieldSize+len(rec.Payload))
	payload = append(payload, u64ToBytes(rec.Sequence)...)
	payload = append(payload, byte(rec.Op))
	payload = append(payload, u64ToBytes(rec.Version)...)
	payload = append(payload, u32ToBytes(uint32(len(id)))...)
	payload = append(payload, id...)
	payload = append(payload, u32ToBytes(uint32(len(rec.Payload)))...)
	payload = append(payload, rec.Payload...)

	payloadLenValue := u32ToBytes(uint32(len(payload)))
	checksum := u32ToBytes(crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli)))

	record := make([]byte, 0, payloadLenBytes+checksumBytes+len(payload))
	record = append(record, payloadLenValue...)
	record = append(record, checksum...)
	record = append(record, payload...)
	return record
}

// decodePayload extracts a ChangeRecord from the payload portion of a log
// record. Preserves the original sequence number so replay order survives
// a restart.
func decodePayload(payload []byte) (model.ChangeRecord, error) {
	minSize := seqNumBytes + opTypeBytes + versionBytes + lenFieldSize + lenFieldSize
	if len(payload) < minSize {
		return model.ChangeRecord{}, fmt.Errorf("payload too short: %d bytes (minimum %d)", len(payload), minSize)
	}

	pos := 0

	seqNum := binary.BigEndian.Uint64(payload[pos : pos+seqNumBytes])
	pos += seqNumBytes

	op := model.ChangeOp(payload[pos])
	if op != model.OpCreateSchool && op != model.OpWriteStudents {
		return model.ChangeRecord{}, fmt.Errorf("invalid change op: %d", op)
	}
	pos += opTypeBytes

	version := binary.BigEndian.Uint64(payload[pos : pos+versionBytes])
	pos += versionBytes

	idLen := binary.BigEndian.Uint32(payload[pos : pos+lenFieldSize])
	pos += lenFieldSize

	if pos+int(idLen) > len(payload) {
		return model.ChangeRecord{}, fmt.Errorf("school id length (%d) exceeds payload bounds", idLen)
	}
	schoolID := string(payload[pos : pos+int(idLen)])
	pos += int(idLen)

	if pos+lenFieldSize > len(payload) {
		return model.ChangeRecord{}, fmt.Errorf("data length field exceeds payload bounds")
	}
	dataLen := binary.BigEndian.Uint32(payload[pos : pos+lenFieldSize])
	pos += lenFieldSize

	if pos+int(dataLen) > len(payload) {
		return model.ChangeRecord{}, fmt.Errorf("data length (%d) exceeds payload bounds", dataLen)
	}

	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		copy(data, payload[pos:pos+int(dataLen)])
	}

	return model.ChangeRecord{
		Sequence: seqNum,
		Op:       op,
		SchoolID: schoolID,
		Version:  version,
		Payload:  data,
	}, nil
}

func u64ToBytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func u32ToBytes(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}
