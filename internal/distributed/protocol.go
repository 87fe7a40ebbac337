package distributed

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/raysh454/fatt/internal/model"
)

// Version is reported in worker capabilities.
const Version = "0.1.0"

var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrMalformed   = errors.New("malformed message")
)

// Kind discriminates protocol messages on the wire.
type Kind uint8

const (
	KindRegister Kind = iota + 1
	KindHeartbeat
	KindScanRequest
	KindScanResult
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindHeartbeat:
		return "heartbeat"
	case KindScanRequest:
		return "scan_request"
	case KindScanResult:
		return "scan_result"
	case KindShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message is one of *Register, *Heartbeat, *ScanRequest, *ScanResult or *Shutdown.
type Message interface {
	Kind() Kind
	appendBody(b []byte) []byte
}

// Capabilities are declared once at registration.
type Capabilities struct {
	MaxConcurrency int    `json:"max_concurrency"`
	Version        string `json:"version"`
}

// Status is the load a worker reports in heartbeats.
type Status struct {
	ActiveScans    int64 `json:"active_scans"`
	CompletedScans int64 `json:"completed_scans"`
	Findings       int64 `json:"findings"`
	UptimeSeconds  int64 `json:"uptime_seconds"`
}

type Register struct {
	WorkerID     string
	Capabilities Capabilities
}

type Heartbeat struct {
	WorkerID string
	Status   Status
}

type ScanRequest struct {
	BatchID string
	Domains []string
}

type ScanResult struct {
	WorkerID string
	BatchID  string
	Findings []model.Finding
}

type Shutdown struct {
	WorkerID string
}

func (*Register) Kind() Kind    { return KindRegister }
func (*Heartbeat) Kind() Kind   { return KindHeartbeat }
func (*ScanRequest) Kind() Kind { return KindScanRequest }
func (*ScanResult) Kind() Kind  { return KindScanResult }
func (*Shutdown) Kind() Kind    { return KindShutdown }

// Envelope field numbers.
const (
	fieldKind protowire.Number = 1
	fieldBody protowire.Number = 2
)

// Encode serializes m. Fields are always written in field-number order, so
// equal messages encode to equal bytes.
func Encode(m Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind()))
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, m.appendBody(nil))
	return b
}

// Decode parses a payload produced by Encode. Unknown fields are skipped.
func Decode(payload []byte) (Message, error) {
	var (
		kind    Kind
		body    []byte
		hasKind bool
	)
	err := walk(payload, func(f field) error {
		switch f.num {
		case fieldKind:
			kind, hasKind = Kind(f.u), true
		case fieldBody:
			body = f.b
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasKind {
		return nil, fmt.Errorf("%w: missing kind", ErrMalformed)
	}

	var m Message
	switch kind {
	case KindRegister:
		m, err = decodeRegister(body)
	case KindHeartbeat:
		m, err = decodeHeartbeat(body)
	case KindScanRequest:
		m, err = decodeScanRequest(body)
	case KindScanResult:
		m, err = decodeScanResult(body)
	case KindShutdown:
		m, err = decodeShutdown(body)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return m, nil
}

// ─── wire helpers ──────────────────────────────────────────────────────

type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(v))
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func (f field) str() string { return string(f.b) }
func (f field) sint() int64 { return protowire.DecodeZigZag(f.u) }
func (f field) boolean() bool { return f.u != 0 }

// ─── message bodies ────────────────────────────────────────────────────

func (m *Register) appendBody(b []byte) []byte {
	b = appendString(b, 1, m.WorkerID)
	var caps []byte
	caps = appendSint(caps, 1, int64(m.Capabilities.MaxConcurrency))
	caps = appendString(caps, 2, m.Capabilities.Version)
	return appendMessage(b, 2, caps)
}

func decodeRegister(b []byte) (*Register, error) {
	m := &Register{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.WorkerID = f.str()
		case 2:
			return walk(f.b, func(f field) error {
				switch f.num {
				case 1:
					m.Capabilities.MaxConcurrency = int(f.sint())
				case 2:
					m.Capabilities.Version = f.str()
				}
				return nil
			})
		}
		return nil
	})
	return m, err
}

func (m *Heartbeat) appendBody(b []byte) []byte {
	b = appendString(b, 1, m.WorkerID)
	var st []byte
	st = appendSint(st, 1, m.Status.ActiveScans)
	st = appendSint(st, 2, m.Status.CompletedScans)
	st = appendSint(st, 3, m.Status.Findings)
	st = appendSint(st, 4, m.Status.UptimeSeconds)
	return appendMessage(b, 2, st)
}

func decodeHeartbeat(b []byte) (*Heartbeat, error) {
	m := &Heartbeat{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.WorkerID = f.str()
		case 2:
			return walk(f.b, func(f field) error {
				switch f.num {
				case 1:
					m.Status.ActiveScans = f.sint()
				case 2:
					m.Status.CompletedScans = f.sint()
				case 3:
					m.Status.Findings = f.sint()
				case 4:
					m.Status.UptimeSeconds = f.sint()
				}
				return nil
			})
		}
		return nil
	})
	return m, err
}

func (m *ScanRequest) appendBody(b []byte) []byte {
	b = appendString(b, 1, m.BatchID)
	for _, d := range m.Domains {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, d)
	}
	return b
}

func decodeScanRequest(b []byte) (*ScanRequest, error) {
	m := &ScanRequest{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.BatchID = f.str()
		case 2:
			m.Domains = append(m.Domains, f.str())
		}
		return nil
	})
	return m, err
}

func (m *ScanResult) appendBody(b []byte) []byte {
	b = appendString(b, 1, m.WorkerID)
	b = appendString(b, 2, m.BatchID)
	for _, f := range m.Findings {
		b = appendMessage(b, 3, appendFinding(nil, f))
	}
	return b
}

func appendFinding(b []byte, f model.Finding) []byte {
	b = appendString(b, 1, f.Domain)
	b = appendString(b, 2, f.RuleName)
	b = appendString(b, 3, f.MatchedPath)
	if f.Detected {
		b = appendVarint(b, 4, 1)
	}
	if !f.ScannedAt.IsZero() {
		b = appendSint(b, 5, f.ScannedAt.Unix())
	}
	return b
}

func decodeScanResult(b []byte) (*ScanResult, error) {
	m := &ScanResult{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.WorkerID = f.str()
		case 2:
			m.BatchID = f.str()
		case 3:
			finding, err := decodeFinding(f.b)
			if err != nil {
				return err
			}
			m.Findings = append(m.Findings, finding)
		}
		return nil
	})
	return m, err
}

func decodeFinding(b []byte) (model.Finding, error) {
	var out model.Finding
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			out.Domain = f.str()
		case 2:
			out.RuleName = f.str()
		case 3:
			out.MatchedPath = f.str()
		case 4:
			out.Detected = f.boolean()
		case 5:
			out.ScannedAt = time.Unix(f.sint(), 0).UTC()
		}
		return nil
	})
	return out, err
}

func (m *Shutdown) appendBody(b []byte) []byte {
	return appendString(b, 1, m.WorkerID)
}

func decodeShutdown(b []byte) (*Shutdown, error) {
	m := &Shutdown{}
	err := walk(b, func(f field) error {
		if f.num == 1 {
			m.WorkerID = f.str()
		}
		return nil
	})
	return m, err
}
