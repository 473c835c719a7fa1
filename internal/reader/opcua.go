package reader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/types"
	"github.com/xtxerr/gridrelay/internal/validation"
)

// OPCUAReader reads every configured node in a single Read request.
type OPCUAReader struct {
	client  *opcua.Client
	req     *ua.ReadRequest
	names   []string
	timeout time.Duration
	now     func() time.Time
}

// NewOPCUA opens a session to cfg.Endpoint.
func NewOPCUA(ctx context.Context, cfg config.OPCUAConfig) (*OPCUAReader, error) {
	req, err := readRequest(cfg.Tags)
	if err != nil {
		return nil, err
	}

	client, err := opcua.NewClient(cfg.Endpoint, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errors.Wrapf(err, "opcua connect %s", cfg.Endpoint)
	}

	names := make([]string, len(cfg.Tags))
	for i, tag := range cfg.Tags {
		names[i] = tag.Name
	}

	return &OPCUAReader{
		client:  client,
		req:     req,
		names:   names,
		timeout: cfg.Timeout,
		now:     time.Now,
	}, nil
}

// Acquire reads all nodes. A bad status on any node fails the snapshot.
func (r *OPCUAReader) Acquire(ctx context.Context) (types.Snapshot, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ts := r.now()
	resp, err := r.client.Read(ctx, r.req)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("%w: opcua read: %w", errors.ErrAcquireFailed, err)
	}

	tags, err := decodeResults(r.names, resp.Results)
	if err != nil {
		return types.Snapshot{}, err
	}
	return types.Snapshot{Timestamp: ts, Tags: tags}, nil
}

// Close ends the session.
func (r *OPCUAReader) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Close(ctx)
}

func readRequest(tags []config.OPCUATag) (*ua.ReadRequest, error) {
	if len(tags) == 0 {
		return nil, errors.ErrNoTags
	}
	req := &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnNeither,
		NodesToRead:        make([]*ua.ReadValueID, len(tags)),
	}
	for i, tag := range tags {
		if err := validation.ValidateNodeID(tag.NodeID); err != nil {
			return nil, errors.NewInvalidValue(fmt.Sprintf("opcua.tags[%d].node_id", i), tag.NodeID, err.Error())
		}
		id, err := ua.ParseNodeID(tag.NodeID)
		if err != nil {
			return nil, errors.NewInvalidValue(fmt.Sprintf("opcua.tags[%d].node_id", i), tag.NodeID, err.Error())
		}
		req.NodesToRead[i] = &ua.ReadValueID{NodeID: id, AttributeID: ua.AttributeIDValue}
	}
	return req, nil
}

func decodeResults(names []string, results []*ua.DataValue) (types.Tags, error) {
	if len(results) != len(names) {
		return nil, fmt.Errorf("%w: got %d of %d results", errors.ErrAcquireFailed, len(results), len(names))
	}
	tags := make(types.Tags, len(names))
	for i, dv := range results {
		if dv == nil || dv.Status != ua.StatusOK {
			status := ua.StatusBad
			if dv != nil {
				status = dv.Status
			}
			return nil, fmt.Errorf("%w: tag %s: status %s", errors.ErrAcquireFailed, names[i], status)
		}
		v, err := variantValue(dv.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: tag %s: %w", errors.ErrAcquireFailed, names[i], err)
		}
		tags[names[i]] = v
	}
	return tags, nil
}

// variantValue converts a scalar variant to a tag value.
func variantValue(v *ua.Variant) (types.Value, error) {
	if v == nil {
		return types.Value{}, fmt.Errorf("%w: empty variant", errors.ErrUnsupported)
	}
	switch x := v.Value().(type) {
	case bool:
		return types.Bool(x), nil
	case float32:
		return types.Number(float64(x)), nil
	case float64:
		return types.Number(x), nil
	case int8:
		return types.Number(float64(x)), nil
	case uint8:
		return types.Number(float64(x)), nil
	case int16:
		return types.Number(float64(x)), nil
	case uint16:
		return types.Number(float64(x)), nil
	case int32:
		return types.Number(float64(x)), nil
	case uint32:
		return types.Number(float64(x)), nil
	case int64:
		return types.Number(float64(x)), nil
	case uint64:
		return types.Number(float64(x)), nil
	case string:
		return types.Text(x), nil
	case time.Time:
		return types.Text(x.Format(types.RowTimeLayout)), nil
	default:
		return types.Value{}, fmt.Errorf("%w: %T", errors.ErrUnsupported, x)
	}
}

func clientOptions(cfg config.OPCUAConfig) []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(securityMode(cfg.SecurityMode)),
		opcua.SecurityPolicy(securityPolicy(cfg.SecurityPolicy)),
		opcua.AutoReconnect(false),
	}
	if cfg.ApplicationName != "" {
		opts = append(opts, opcua.ApplicationName(cfg.ApplicationName))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, opcua.RequestTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func securityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "sign_and_encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func securityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}
