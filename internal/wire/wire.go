// Package wire provides the protobuf encoding of grid rows sent to the API.
//
// Each row is a google.protobuf.Struct {"timestamp": "...", "tags": {...}},
// length-delimited using protobuf's standard varint prefix, so a batch body
// is a plain stream of rows.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/gridrelay/internal/types"
)

// MaxRowSize bounds a single decoded row.
const MaxRowSize = 1 << 20

// ContentType is the media type of a row stream.
const ContentType = "application/x-protobuf; delimited=true"

// RowToStruct converts a row to its Struct form. Unset tags become an empty
// object.
func RowToStruct(row types.GridRow) (*structpb.Struct, error) {
	tags := make(map[string]any, len(row.Tags))
	for name, v := range row.Tags {
		tags[name] = v.Interface()
	}
	return structpb.NewStruct(map[string]any{
		"timestamp": row.Timestamp.Format(types.RowTimeLayout),
		"tags":      tags,
	})
}

// StructToRow converts a Struct back to a row in local time.
func StructToRow(s *structpb.Struct) (types.GridRow, error) {
	fields := s.GetFields()

	ts, err := time.ParseInLocation(types.RowTimeLayout, fields["timestamp"].GetStringValue(), time.Local)
	if err != nil {
		return types.GridRow{}, fmt.Errorf("row timestamp: %w", err)
	}

	row := types.GridRow{Timestamp: ts}
	tagFields := fields["tags"].GetStructValue().GetFields()
	if len(tagFields) == 0 {
		return row, nil
	}

	row.Tags = make(types.Tags, len(tagFields))
	for name, v := range tagFields {
		switch k := v.GetKind().(type) {
		case *structpb.Value_NumberValue:
			row.Tags[name] = types.Number(k.NumberValue)
		case *structpb.Value_BoolValue:
			row.Tags[name] = types.Bool(k.BoolValue)
		case *structpb.Value_StringValue:
			row.Tags[name] = types.Text(k.StringValue)
		default:
			return types.GridRow{}, fmt.Errorf("tag %s: unsupported kind %T", name, k)
		}
	}
	return row, nil
}

// Reader reads length-delimited rows from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r  *bufio.Reader
	mu sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read reads the next row. It returns io.EOF at the end of the stream.
func (r *Reader) Read() (types.GridRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{MaxSize: MaxRowSize}
	if err := opts.UnmarshalFrom(r.r, msg); err != nil {
		if err == io.EOF {
			return types.GridRow{}, io.EOF
		}
		return types.GridRow{}, fmt.Errorf("read row: %w", err)
	}
	return StructToRow(msg)
}

// ReadAll reads rows until the end of the stream.
func (r *Reader) ReadAll() ([]types.GridRow, error) {
	var rows []types.GridRow
	for {
		row, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

// Writer writes length-delimited rows to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write marshals and writes one row with its length prefix.
func (w *Writer) Write(row types.GridRow) error {
	msg, err := RowToStruct(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := protodelim.MarshalTo(w.w, msg); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	return nil
}

// WriteAll writes rows in order.
func (w *Writer) WriteAll(rows []types.GridRow) error {
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
