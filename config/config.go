// Package config holds the typed description of PLCs, register mappings
// and polling cadence that drives the mirror, plus the translation from
// the declarative JSON document (spec §6) into that model.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/srtp"
)

// DefaultSRTPPort is used when a PLC entry omits SrtpPort.
const DefaultSRTPPort = 18245

// Defaults for the shared Modbus target. The original source hard-codes
// these as process constants (ModbusIp, SlaveId, port 502); this
// expansion lifts them into top-level configuration fields so a
// deployment isn't stuck rebuilding the binary to point at a different
// Modbus server. ModbusIp is required; ModbusPort and ModbusSlaveId are
// optional and fall back to these values when a document omits them.
const (
	DefaultModbusPort    = 502
	DefaultModbusSlaveID = 1
)

// areaCodes maps a case-insensitive memory-area tag to its one-byte SRTP
// wire code (spec §6).
var areaCodes = map[string]srtp.MemoryArea{
	"R":  0x08,
	"W":  0x09,
	"AI": 0x0A,
	"AQ": 0x0C,
	"Q":  0x12,
	"I":  0x10,
	"M":  0x16,
	"T":  0x14,
	"G":  0x20,
	"GA": 0x20,
	"GB": 0x22,
	"GC": 0x24,
	"GD": 0x26,
	"GE": 0x28,
	"S":  0x30,
	"SA": 0x30,
	"SB": 0x32,
	"SC": 0x34,
}

// AreaCode resolves a memory-area tag (case-insensitive, surrounding
// whitespace stripped) to its wire code.
func AreaCode(tag string) (srtp.MemoryArea, error) {
	key := strings.ToUpper(strings.TrimSpace(tag))
	code, ok := areaCodes[key]
	if !ok {
		return 0, &ConfigError{Msg: fmt.Sprintf("unknown PLC memory area tag %q", tag)}
	}
	return code, nil
}

// ConfigError indicates a malformed configuration document. It is fatal at
// startup.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// RegisterSyncMapping is the immutable description of one contiguous
// block mirrored between a PLC memory area and a Modbus holding-register
// range.
type RegisterSyncMapping struct {
	// PLCArea is the resolved SRTP memory-area wire code.
	PLCArea srtp.MemoryArea
	// PLCAreaTag is the original tag, kept for logging.
	PLCAreaTag string
	// PLCStart is the 1-based word index within PLCArea.
	PLCStart uint16
	// ModbusStart is the 0-based holding-register index.
	ModbusStart uint16
	// Count is the number of 16-bit words in the block. Always >= 1.
	Count uint16
	// SwapBytes governs byte-order reconciliation between the PLC word
	// (little-endian on the wire) and the Modbus word.
	SwapBytes bool
}

// PlcConfig describes one PLC's SRTP endpoint and the register blocks
// mirrored against it.
type PlcConfig struct {
	IP       string
	SrtpPort uint16
	Maps     []RegisterSyncMapping
}

// GlobalConfig is the fully resolved, typed configuration for one run of
// the mirror.
type GlobalConfig struct {
	PollInterval     time.Duration
	DefaultSwapBytes bool
	Plcs             []PlcConfig

	// ModbusAddress is the shared Modbus/TCP server's "host:port" endpoint.
	ModbusAddress string
	// ModbusSlaveID is the unit/slave identifier used for every request
	// against the shared Modbus server.
	ModbusSlaveID uint8

	// MaxReconnectAttempts bounds how many times a synchronizer reconnects
	// after a failed run before giving up and terminating. Zero (the
	// default, and the value when the field is omitted from the document)
	// means no retries: the mirror is not self-healing unless an operator
	// opts in.
	MaxReconnectAttempts int
}

// document mirrors the declarative JSON schema in spec §6. Field names are
// case-insensitive (encoding/json already matches case-insensitively; the
// mapstructure tags are kept for parity with the teacher's tagging
// convention even though nothing here uses mapstructure to decode).
type document struct {
	PollMs           uint64        `json:"PollMs" mapstructure:"PollMs"`
	DefaultSwapBytes bool          `json:"DefaultSwapBytes" mapstructure:"DefaultSwapBytes"`
	Plcs             []plcDocument `json:"Plcs" mapstructure:"Plcs"`

	// ModbusIp/ModbusPort/ModbusSlaveId are optional; omitted fields fall
	// back to the values the original source hard-coded.
	ModbusIp      string `json:"ModbusIp" mapstructure:"ModbusIp"`
	ModbusPort    uint16 `json:"ModbusPort" mapstructure:"ModbusPort"`
	ModbusSlaveId uint8  `json:"ModbusSlaveId" mapstructure:"ModbusSlaveId"`

	// MaxReconnectAttempts is optional and defaults to zero (no retries),
	// matching the mirror's "not self-healing by default" baseline.
	MaxReconnectAttempts int `json:"MaxReconnectAttempts" mapstructure:"MaxReconnectAttempts"`
}

type plcDocument struct {
	IP       string         `json:"Ip" mapstructure:"Ip"`
	SrtpPort uint16         `json:"SrtpPort" mapstructure:"SrtpPort"`
	Links    []linkDocument `json:"Links" mapstructure:"Links"`
}

type linkDocument struct {
	Plc       string `json:"Plc" mapstructure:"Plc"`
	Modbus    string `json:"Modbus" mapstructure:"Modbus"`
	Count     uint16 `json:"Count" mapstructure:"Count"`
	SwapBytes *bool  `json:"SwapBytes" mapstructure:"SwapBytes"`
}

// Parse unmarshals a declarative configuration document (spec §6) into a
// GlobalConfig, resolving memory-area tags, PLC/Modbus addressing
// conventions and per-link byte-swap overrides. All validation errors
// found are collected and returned together via a single *ConfigError so
// an operator sees every problem in one pass.
func Parse(raw []byte) (*GlobalConfig, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("invalid configuration document: %v", err)}
	}

	var problems []string

	if doc.PollMs == 0 {
		problems = append(problems, "PollMs must be greater than zero")
	}

	plcs := make([]PlcConfig, 0, len(doc.Plcs))
	for pi, p := range doc.Plcs {
		if strings.TrimSpace(p.IP) == "" {
			problems = append(problems, fmt.Sprintf("plcs[%d]: Ip is required", pi))
		}
		port := p.SrtpPort
		if port == 0 {
			port = DefaultSRTPPort
		}

		maps := make([]RegisterSyncMapping, 0, len(p.Links))
		for li, l := range p.Links {
			mapping, err := parseLink(l, doc.DefaultSwapBytes)
			if err != nil {
				problems = append(problems, fmt.Sprintf("plcs[%d].links[%d]: %v", pi, li, err))
				continue
			}
			maps = append(maps, mapping)
		}

		plcs = append(plcs, PlcConfig{
			IP:       p.IP,
			SrtpPort: port,
			Maps:     maps,
		})
	}

	modbusIP := doc.ModbusIp
	if strings.TrimSpace(modbusIP) == "" {
		problems = append(problems, "ModbusIp is required")
	}
	modbusPort := doc.ModbusPort
	if modbusPort == 0 {
		modbusPort = DefaultModbusPort
	}
	slaveID := doc.ModbusSlaveId
	if slaveID == 0 {
		slaveID = DefaultModbusSlaveID
	}

	if len(problems) > 0 {
		return nil, &ConfigError{Msg: strings.Join(problems, "; ")}
	}

	return &GlobalConfig{
		PollInterval:         time.Duration(doc.PollMs) * time.Millisecond,
		DefaultSwapBytes:     doc.DefaultSwapBytes,
		Plcs:                 plcs,
		ModbusAddress:        fmt.Sprintf("%s:%d", modbusIP, modbusPort),
		ModbusSlaveID:        slaveID,
		MaxReconnectAttempts: doc.MaxReconnectAttempts,
	}, nil
}

func parseLink(l linkDocument, defaultSwap bool) (RegisterSyncMapping, error) {
	tag, start, err := splitAreaTag(l.Plc)
	if err != nil {
		return RegisterSyncMapping{}, err
	}
	area, err := AreaCode(tag)
	if err != nil {
		return RegisterSyncMapping{}, err
	}
	if start < 1 {
		return RegisterSyncMapping{}, fmt.Errorf("plc_start must be >= 1, got %d", start)
	}

	mbStart, err := parseModbusAddress(l.Modbus)
	if err != nil {
		return RegisterSyncMapping{}, err
	}

	if l.Count < 1 {
		return RegisterSyncMapping{}, fmt.Errorf("count must be >= 1, got %d", l.Count)
	}

	swap := defaultSwap
	if l.SwapBytes != nil {
		swap = *l.SwapBytes
	}

	return RegisterSyncMapping{
		PLCArea:     area,
		PLCAreaTag:  tag,
		PLCStart:    start,
		ModbusStart: mbStart,
		Count:       l.Count,
		SwapBytes:   swap,
	}, nil
}

// splitAreaTag splits a link's Plc field ("R01001") into its letter
// prefix (memory area tag) and its 1-based numeric start, honoring leading
// zeros in the numeric part.
func splitAreaTag(plc string) (tag string, start uint16, err error) {
	trimmed := strings.TrimSpace(plc)
	i := 0
	for i < len(trimmed) && !isDigit(trimmed[i]) {
		i++
	}
	if i == 0 || i == len(trimmed) {
		return "", 0, fmt.Errorf("malformed Plc reference %q", plc)
	}
	tag = trimmed[:i]
	n, err := strconv.ParseUint(trimmed[i:], 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("malformed Plc reference %q: %v", plc, err)
	}
	return tag, uint16(n), nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// parseModbusAddress interprets a link's Modbus field: a decimal number
// that, if >= 400001, is a 4xxxxx documentation address (subtract 400001
// to get the 0-based wire address); otherwise it is already the 0-based
// wire address.
func parseModbusAddress(raw string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed Modbus address %q: %v", raw, err)
	}
	if n >= 400001 {
		n -= 400001
	}
	if n > 0xFFFF {
		return 0, fmt.Errorf("Modbus address %q out of range", raw)
	}
	return uint16(n), nil
}
