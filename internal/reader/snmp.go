package reader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/types"
)

// SNMPReader reads every configured OID with GET requests, chunked by the
// agent's MaxOids.
type SNMPReader struct {
	client *gosnmp.GoSNMP
	oids   []string
	names  map[string]string
	now    func() time.Time
}

// NewSNMP connects the UDP socket. No packets are sent until Acquire.
func NewSNMP(cfg config.SNMPConfig) (*SNMPReader, error) {
	if len(cfg.Tags) == 0 {
		return nil, errors.ErrNoTags
	}

	client := newSNMPClient(cfg)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s:%d: %w", cfg.Host, client.Port, err)
	}

	r := &SNMPReader{
		client: client,
		names:  make(map[string]string, len(cfg.Tags)),
		now:    time.Now,
	}
	for _, tag := range cfg.Tags {
		oid := normalizeOID(tag.OID)
		r.oids = append(r.oids, oid)
		r.names[oid] = tag.Name
	}
	return r, nil
}

// Acquire reads all OIDs. Any missing or unsupported variable fails the
// whole snapshot.
func (r *SNMPReader) Acquire(ctx context.Context) (types.Snapshot, error) {
	r.client.Context = ctx
	ts := r.now()

	tags := make(types.Tags, len(r.oids))
	chunk := r.client.MaxOids
	if chunk <= 0 {
		chunk = gosnmp.MaxOids
	}

	for i := 0; i < len(r.oids); i += chunk {
		end := i + chunk
		if end > len(r.oids) {
			end = len(r.oids)
		}
		pdu, err := r.client.Get(r.oids[i:end])
		if err != nil {
			return types.Snapshot{}, fmt.Errorf("%w: snmp get: %w", errors.ErrAcquireFailed, err)
		}
		if pdu.Error != gosnmp.NoError {
			return types.Snapshot{}, fmt.Errorf("%w: snmp error status %s", errors.ErrAcquireFailed, pdu.Error)
		}
		for _, v := range pdu.Variables {
			name, ok := r.names[normalizeOID(v.Name)]
			if !ok {
				continue
			}
			val, err := snmpValue(v)
			if err != nil {
				return types.Snapshot{}, fmt.Errorf("%w: tag %s: %w", errors.ErrAcquireFailed, name, err)
			}
			tags[name] = val
		}
	}

	if len(tags) != len(r.oids) {
		return types.Snapshot{}, fmt.Errorf("%w: got %d of %d tags", errors.ErrAcquireFailed, len(tags), len(r.oids))
	}
	return types.Snapshot{Timestamp: ts, Tags: tags}, nil
}

// Close closes the socket.
func (r *SNMPReader) Close() error {
	if r.client.Conn == nil {
		return nil
	}
	return r.client.Conn.Close()
}

// snmpValue converts a variable to a tag value.
func snmpValue(v gosnmp.SnmpPDU) (types.Value, error) {
	switch v.Type {
	case gosnmp.Counter32, gosnmp.Counter64, gosnmp.Uinteger32, gosnmp.Gauge32,
		gosnmp.Integer, gosnmp.TimeTicks:
		f, _ := gosnmp.ToBigInt(v.Value).Float64()
		return types.Number(f), nil
	case gosnmp.OpaqueFloat:
		if f, ok := v.Value.(float32); ok {
			return types.Number(float64(f)), nil
		}
	case gosnmp.OpaqueDouble:
		if f, ok := v.Value.(float64); ok {
			return types.Number(f), nil
		}
	case gosnmp.Boolean:
		if b, ok := v.Value.(bool); ok {
			return types.Bool(b), nil
		}
	case gosnmp.OctetString:
		if b, ok := v.Value.([]byte); ok {
			return types.Text(string(b)), nil
		}
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
		return types.Value{}, errors.NewNotFound("oid", v.Name)
	}
	return types.Value{}, fmt.Errorf("%w: %v (%T)", errors.ErrUnsupported, v.Type, v.Value)
}

func normalizeOID(oid string) string {
	if !strings.HasPrefix(oid, ".") {
		return "." + oid
	}
	return oid
}

func newSNMPClient(cfg config.SNMPConfig) *gosnmp.GoSNMP {
	port := cfg.Port
	if port == 0 {
		port = 161
	}

	client := &gosnmp.GoSNMP{
		Target:  cfg.Host,
		Port:    port,
		Timeout: cfg.Timeout,
		Retries: cfg.Retries,
		MaxOids: gosnmp.MaxOids,
	}

	// Version follows the presence of a security name.
	if cfg.SecurityName != "" {
		client.Version = gosnmp.Version3
		client.SecurityModel = gosnmp.UserSecurityModel
		client.MsgFlags = msgFlags(cfg.SecurityLevel)
		client.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 cfg.SecurityName,
			AuthenticationProtocol:   authProtocol(cfg.AuthProtocol),
			AuthenticationPassphrase: cfg.AuthPassword,
			PrivacyProtocol:          privProtocol(cfg.PrivProtocol),
			PrivacyPassphrase:        cfg.PrivPassword,
		}
		client.ContextName = cfg.ContextName
	} else {
		client.Version = gosnmp.Version2c
		client.Community = cfg.Community
	}

	return client
}

func msgFlags(level string) gosnmp.SnmpV3MsgFlags {
	switch level {
	case "authNoPriv":
		return gosnmp.AuthNoPriv
	case "authPriv":
		return gosnmp.AuthPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func authProtocol(protocol string) gosnmp.SnmpV3AuthProtocol {
	switch protocol {
	case "MD5":
		return gosnmp.MD5
	case "SHA":
		return gosnmp.SHA
	case "SHA224":
		return gosnmp.SHA224
	case "SHA256":
		return gosnmp.SHA256
	case "SHA384":
		return gosnmp.SHA384
	case "SHA512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func privProtocol(protocol string) gosnmp.SnmpV3PrivProtocol {
	switch protocol {
	case "DES":
		return gosnmp.DES
	case "AES":
		return gosnmp.AES
	case "AES192":
		return gosnmp.AES192
	case "AES256":
		return gosnmp.AES256
	default:
		return gosnmp.NoPriv
	}
}
