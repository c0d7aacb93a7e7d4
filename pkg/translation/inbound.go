package translation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// DefaultRemainderLimit bounds the partial packet carried between reads.
const DefaultRemainderLimit = 64 * 1024

// ErrMalformedPacket is returned for packet text that is neither an object nor an array.
var ErrMalformedPacket = errors.New("malformed telemetry packet")

const sentinelByte = '*'

// Packets made of one of these words carry no telemetry.
var outOfBandMarkers = map[string]bool{
	"info":      true,
	"error":     true,
	"alarm":     true,
	"heartbeat": true,
	"keepalive": true,
}

// bareKey matches unquoted numeric object keys such as {129:[...]}.
var bareKey = regexp.MustCompile(`([{,]\s*)(-?\d+)(\s*:)`)

// DecoderStats counts decoder outcomes since creation.
type DecoderStats struct {
	Records   uint64 `json:"records"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
	Discarded uint64 `json:"discarded"`
	Overflows uint64 `json:"overflows"`
}

type decoderCounters struct {
	records   atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64
	overflows atomic.Uint64
}

func (c *decoderCounters) snapshot() DecoderStats {
	return DecoderStats{
		Records:   c.records.Load(),
		Skipped:   c.skipped.Load(),
		Failed:    c.failed.Load(),
		Discarded: c.discarded.Load(),
		Overflows: c.overflows.Load(),
	}
}

// Decoder reassembles one framed telemetry stream. It keeps the trailing
// partial packet between calls and is not safe for concurrent use. A
// Decoder must never be fed bytes from more than one connection.
type Decoder struct {
	logger    log.Logger
	remainder []byte
	limit     int
	stats     *decoderCounters
}

// NewDecoder creates a decoder. A non-positive limit selects DefaultRemainderLimit.
func NewDecoder(limit int, logger log.Logger) *Decoder {
	return newDecoder(limit, &decoderCounters{}, logger)
}

func newDecoder(limit int, stats *decoderCounters, logger log.Logger) *Decoder {
	if limit <= 0 {
		limit = DefaultRemainderLimit
	}
	return &Decoder{logger: logger, limit: limit, stats: stats}
}

// Decode consumes one chunk and returns the records completed by it.
// Malformed packets are logged and skipped; they never abort the batch.
func (d *Decoder) Decode(chunk []byte) []Record {
	data := make([]byte, 0, len(d.remainder)+len(chunk))
	data = append(data, d.remainder...)
	data = append(data, chunk...)
	d.remainder = nil

	start := bytes.IndexFunc(data, func(r rune) bool {
		return r != '"' && r != ' ' && r != '\t' && r != '\r' && r != '\n'
	})
	if start < 0 {
		return nil
	}
	if data[start] != sentinelByte {
		d.stats.discarded.Add(1)
		d.logger.Warnf("Discarding %d bytes of telemetry not starting with a sentinel", len(data))
		return nil
	}

	// Everything from the last sentinel on is carried over, so a closing
	// sentinel also opens the next buffer.
	last := bytes.LastIndexByte(data, sentinelByte)
	if tail := data[last:]; len(tail) > d.limit {
		d.stats.overflows.Add(1)
		d.logger.Errorf("Telemetry remainder of %d bytes exceeds limit %d, dropping it", len(tail), d.limit)
	} else {
		d.remainder = append([]byte(nil), tail...)
	}

	var records []Record
	for _, piece := range bytes.Split(data[start:last], []byte{sentinelByte}) {
		text := strings.Trim(string(piece), "\" \t\r\n")
		if text == "" {
			continue
		}
		if outOfBandMarkers[strings.ToLower(text)] {
			d.stats.skipped.Add(1)
			continue
		}
		recs, err := parsePacket(text)
		if err != nil {
			d.stats.failed.Add(1)
			d.logger.Warnf("Skipping telemetry packet %q: %v", text, err)
			continue
		}
		d.stats.records.Add(uint64(len(recs)))
		records = append(records, recs...)
	}
	return records
}

// Pending returns the number of bytes carried to the next call.
func (d *Decoder) Pending() int {
	return len(d.remainder)
}

// partial reports whether the carried bytes hold packet content rather than
// just the closing sentinel of the last packet.
func (d *Decoder) partial() bool {
	return len(bytes.Trim(d.remainder, "*\" \t\r\n")) > 0
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() DecoderStats {
	return d.stats.snapshot()
}

// StreamDecoder keeps one Decoder per connection so a partial packet from
// one connection is never completed with bytes from another. All decoders
// share one set of counters.
type StreamDecoder struct {
	logger log.Logger
	limit  int
	stats  decoderCounters

	mu      sync.Mutex
	streams map[uint64]*Decoder
}

// NewStreamDecoder creates an empty stream decoder. A non-positive limit
// selects DefaultRemainderLimit.
func NewStreamDecoder(limit int, logger log.Logger) *StreamDecoder {
	return &StreamDecoder{
		logger:  logger,
		limit:   limit,
		streams: make(map[uint64]*Decoder),
	}
}

// Decode feeds chunk to the decoder of stream, creating it on first use.
func (m *StreamDecoder) Decode(stream uint64, chunk []byte) []Record {
	m.mu.Lock()
	d, ok := m.streams[stream]
	if !ok {
		d = newDecoder(m.limit, &m.stats, m.logger)
		m.streams[stream] = d
	}
	m.mu.Unlock()
	return d.Decode(chunk)
}

// Close drops the decoder of a finished stream together with any partial
// packet it still holds.
func (m *StreamDecoder) Close(stream uint64) {
	m.mu.Lock()
	d, ok := m.streams[stream]
	delete(m.streams, stream)
	m.mu.Unlock()

	if ok && d.partial() {
		m.stats.discarded.Add(1)
		m.logger.Warnf("Discarding %d bytes of incomplete telemetry from closed stream %d", d.Pending(), stream)
	}
}

// Streams returns the number of open streams.
func (m *StreamDecoder) Streams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Stats returns the counters summed over every stream, closed ones included.
func (m *StreamDecoder) Stats() DecoderStats {
	return m.stats.snapshot()
}

// parsePacket accepts {"<id>":[...]}, {<id>:[...]} and the legacy [<id>,[...]].
func parsePacket(text string) ([]Record, error) {
	switch text[0] {
	case '{':
		return parseObject(text)
	case '[':
		return parseLegacy(text)
	default:
		return nil, ErrMalformedPacket
	}
}

func parseObject(text string) ([]Record, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		quoted := bareKey.ReplaceAllString(text, `$1"$2"$3`)
		if err2 := json.Unmarshal([]byte(quoted), &obj); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
		}
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("%w: empty object", ErrMalformedPacket)
	}

	ids := make([]int, 0, len(obj))
	raw := make(map[int]json.RawMessage, len(obj))
	for key, payload := range obj {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("%w: channel key %q is not numeric", ErrMalformedPacket, key)
		}
		ids = append(ids, id)
		raw[id] = payload
	}
	sort.Ints(ids)

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := MapChannel(id, raw[id])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseLegacy(text string) ([]Record, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if len(items) < 2 {
		return nil, fmt.Errorf("%w: legacy packet needs an id and a payload", ErrMalformedPacket)
	}
	var id int
	if err := json.Unmarshal(items[0], &id); err != nil {
		return nil, fmt.Errorf("%w: legacy channel id is not an integer", ErrMalformedPacket)
	}
	rec, err := MapChannel(id, items[1])
	if err != nil {
		return nil, err
	}
	return []Record{rec}, nil
}
