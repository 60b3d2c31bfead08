package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"fleet-telemetry-platform/internal/models"
)

var observationSchema = arrow.NewSchema([]arrow.Field{
	{Name: "vessel_id", Type: arrow.BinaryTypes.String},
	{Name: "signal_id", Type: arrow.BinaryTypes.String},
	{Name: "signal_timestamp", Type: arrow.BinaryTypes.String},
	{Name: "signal_value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "friendly_name", Type: arrow.BinaryTypes.String},
	{Name: "load_date", Type: arrow.BinaryTypes.String},
	{Name: "tag", Type: arrow.BinaryTypes.String},
}, nil)

var gapSchema = arrow.NewSchema([]arrow.Field{
	{Name: "vessel_id", Type: arrow.BinaryTypes.String},
	{Name: "signal_id", Type: arrow.BinaryTypes.String},
	{Name: "gap_start", Type: arrow.BinaryTypes.String},
	{Name: "gap_end", Type: arrow.BinaryTypes.String},
	{Name: "load_date", Type: arrow.BinaryTypes.String},
}, nil)

var signalRecordSchema = arrow.NewSchema([]arrow.Field{
	{Name: "vessel_id", Type: arrow.BinaryTypes.String},
	{Name: "signal_id", Type: arrow.BinaryTypes.String},
	{Name: "signal_value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "signal_timestamp", Type: arrow.BinaryTypes.String},
	{Name: "friendly_name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "unit", Type: arrow.BinaryTypes.String},
	{Name: "object_code", Type: arrow.BinaryTypes.String},
	{Name: "name_code", Type: arrow.BinaryTypes.String},
	{Name: "group_name", Type: arrow.BinaryTypes.String},
	{Name: "sub_group", Type: arrow.BinaryTypes.String},
	{Name: "load_date", Type: arrow.BinaryTypes.String},
}, nil)

func writerProps() (*parquet.WriterProperties, pqarrow.ArrowWriterProperties) {
	return parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Snappy),
		),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
}

func encodeRecord(schema *arrow.Schema, record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer

	props, arrowProps := writerProps()
	writer, err := pqarrow.NewFileWriter(schema, &buf, props, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write parquet record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return buf.Bytes(), nil
}

func decodeTable(ctx context.Context, data []byte) (arrow.Table, error) {
	reader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet data: %w", err)
	}
	defer reader.Close()

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet table: %w", err)
	}
	return table, nil
}

// EncodeObservations serializes observations to snappy-compressed parquet.
func EncodeObservations(observations []models.Observation) ([]byte, error) {
	pool := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(pool, observationSchema)
	defer builder.Release()

	vesselB := builder.Field(0).(*array.StringBuilder)
	signalB := builder.Field(1).(*array.StringBuilder)
	tsB := builder.Field(2).(*array.StringBuilder)
	valueB := builder.Field(3).(*array.Float64Builder)
	nameB := builder.Field(4).(*array.StringBuilder)
	loadB := builder.Field(5).(*array.StringBuilder)
	tagB := builder.Field(6).(*array.StringBuilder)

	for _, obs := range observations {
		vesselB.Append(obs.VesselID)
		signalB.Append(obs.SignalID)
		tsB.Append(obs.Timestamp)
		if obs.Value != nil {
			valueB.Append(*obs.Value)
		} else {
			valueB.AppendNull()
		}
		nameB.Append(obs.FriendlyName)
		loadB.Append(obs.LoadDate)
		tagB.Append(string(obs.Tag))
	}

	record := builder.NewRecord()
	defer record.Release()

	return encodeRecord(observationSchema, record)
}

// DecodeObservations deserializes a parquet payload written by
// EncodeObservations.
func DecodeObservations(ctx context.Context, data []byte) ([]models.Observation, error) {
	table, err := decodeTable(ctx, data)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	cols, err := columnIndex(table, []string{
		"vessel_id", "signal_id", "signal_timestamp", "signal_value",
		"friendly_name", "load_date", "tag",
	})
	if err != nil {
		return nil, err
	}

	observations := make([]models.Observation, 0, table.NumRows())
	err = forEachRow(table, func(row func(col int) (arrow.Array, int)) error {
		obs := models.Observation{
			VesselID:     stringAt(row(cols[0])),
			SignalID:     stringAt(row(cols[1])),
			Timestamp:    stringAt(row(cols[2])),
			Value:        floatAt(row(cols[3])),
			FriendlyName: stringAt(row(cols[4])),
			LoadDate:     stringAt(row(cols[5])),
			Tag:          models.Tag(stringAt(row(cols[6]))),
		}
		observations = append(observations, obs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return observations, nil
}

// EncodeGaps serializes gap intervals to parquet. Interval bounds are stored
// as RFC 3339 strings.
func EncodeGaps(gaps []models.GapInterval) ([]byte, error) {
	pool := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(pool, gapSchema)
	defer builder.Release()

	vesselB := builder.Field(0).(*array.StringBuilder)
	signalB := builder.Field(1).(*array.StringBuilder)
	startB := builder.Field(2).(*array.StringBuilder)
	endB := builder.Field(3).(*array.StringBuilder)
	loadB := builder.Field(4).(*array.StringBuilder)

	for _, gap := range gaps {
		vesselB.Append(gap.VesselID)
		signalB.Append(gap.SignalID)
		startB.Append(gap.GapStart.UTC().Format(time.RFC3339))
		endB.Append(gap.GapEnd.UTC().Format(time.RFC3339))
		loadB.Append(gap.LoadDate)
	}

	record := builder.NewRecord()
	defer record.Release()

	return encodeRecord(gapSchema, record)
}

// DecodeGaps deserializes a parquet payload written by EncodeGaps.
func DecodeGaps(ctx context.Context, data []byte) ([]models.GapInterval, error) {
	table, err := decodeTable(ctx, data)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	cols, err := columnIndex(table, []string{
		"vessel_id", "signal_id", "gap_start", "gap_end", "load_date",
	})
	if err != nil {
		return nil, err
	}

	gaps := make([]models.GapInterval, 0, table.NumRows())
	err = forEachRow(table, func(row func(col int) (arrow.Array, int)) error {
		start, err := time.Parse(time.RFC3339, stringAt(row(cols[2])))
		if err != nil {
			return fmt.Errorf("invalid gap_start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, stringAt(row(cols[3])))
		if err != nil {
			return fmt.Errorf("invalid gap_end: %w", err)
		}
		gaps = append(gaps, models.GapInterval{
			VesselID: stringAt(row(cols[0])),
			SignalID: stringAt(row(cols[1])),
			GapStart: start,
			GapEnd:   end,
			LoadDate: stringAt(row(cols[4])),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return gaps, nil
}

// EncodeSignalRecords serializes flattened signal descriptor rows to parquet.
func EncodeSignalRecords(records []models.SignalRecord) ([]byte, error) {
	pool := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(pool, signalRecordSchema)
	defer builder.Release()

	vesselB := builder.Field(0).(*array.StringBuilder)
	signalB := builder.Field(1).(*array.StringBuilder)
	valueB := builder.Field(2).(*array.Float64Builder)
	tsB := builder.Field(3).(*array.StringBuilder)
	nameB := builder.Field(4).(*array.StringBuilder)
	unitB := builder.Field(5).(*array.StringBuilder)
	objectB := builder.Field(6).(*array.StringBuilder)
	nameCodeB := builder.Field(7).(*array.StringBuilder)
	groupB := builder.Field(8).(*array.StringBuilder)
	subGroupB := builder.Field(9).(*array.StringBuilder)
	loadB := builder.Field(10).(*array.StringBuilder)

	for _, rec := range records {
		vesselB.Append(rec.VesselID)
		signalB.Append(rec.SignalID)
		if rec.Value != nil {
			valueB.Append(*rec.Value)
		} else {
			valueB.AppendNull()
		}
		tsB.Append(rec.Timestamp)
		if rec.FriendlyName != nil {
			nameB.Append(*rec.FriendlyName)
		} else {
			nameB.AppendNull()
		}
		unitB.Append(rec.Unit)
		objectB.Append(rec.ObjectCode)
		nameCodeB.Append(rec.NameCode)
		groupB.Append(rec.GroupName)
		subGroupB.Append(rec.SubGroup)
		loadB.Append(rec.LoadDate)
	}

	record := builder.NewRecord()
	defer record.Release()

	return encodeRecord(signalRecordSchema, record)
}

// DecodeSignalRecords deserializes a parquet payload written by
// EncodeSignalRecords.
func DecodeSignalRecords(ctx context.Context, data []byte) ([]models.SignalRecord, error) {
	table, err := decodeTable(ctx, data)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	cols, err := columnIndex(table, []string{
		"vessel_id", "signal_id", "signal_value", "signal_timestamp",
		"friendly_name", "unit", "object_code", "name_code", "group_name",
		"sub_group", "load_date",
	})
	if err != nil {
		return nil, err
	}

	records := make([]models.SignalRecord, 0, table.NumRows())
	err = forEachRow(table, func(row func(col int) (arrow.Array, int)) error {
		rec := models.SignalRecord{
			VesselID:     stringAt(row(cols[0])),
			SignalID:     stringAt(row(cols[1])),
			Value:        floatAt(row(cols[2])),
			Timestamp:    stringAt(row(cols[3])),
			FriendlyName: stringPtrAt(row(cols[4])),
			Unit:         stringAt(row(cols[5])),
			ObjectCode:   stringAt(row(cols[6])),
			NameCode:     stringAt(row(cols[7])),
			GroupName:    stringAt(row(cols[8])),
			SubGroup:     stringAt(row(cols[9])),
			LoadDate:     stringAt(row(cols[10])),
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// EncodeWideTable serializes a pivoted wide table to parquet. The schema is
// dynamic: three key columns plus one nullable float column per signal.
func EncodeWideTable(table models.WideTable) ([]byte, error) {
	fields := []arrow.Field{
		{Name: "vessel_id", Type: arrow.BinaryTypes.String},
		{Name: "timestamp", Type: arrow.BinaryTypes.String},
		{Name: "load_date", Type: arrow.BinaryTypes.String},
	}
	for _, col := range table.Columns {
		fields = append(fields, arrow.Field{Name: col, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	pool := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(pool, schema)
	defer builder.Release()

	vesselB := builder.Field(0).(*array.StringBuilder)
	tsB := builder.Field(1).(*array.StringBuilder)
	loadB := builder.Field(2).(*array.StringBuilder)

	for _, row := range table.Rows {
		vesselB.Append(row.VesselID)
		tsB.Append(row.Timestamp)
		loadB.Append(row.LoadDate)
		for i, col := range table.Columns {
			valueB := builder.Field(3 + i).(*array.Float64Builder)
			if v, ok := row.Values[col]; ok && v != nil {
				valueB.Append(*v)
			} else {
				valueB.AppendNull()
			}
		}
	}

	record := builder.NewRecord()
	defer record.Release()

	return encodeRecord(schema, record)
}

// EncodeShipTable serializes a flattened ship-data table. The schema is
// dynamic: one nullable string column per table column.
func EncodeShipTable(table models.ShipTable) ([]byte, error) {
	fields := make([]arrow.Field, 0, len(table.Columns))
	for _, col := range table.Columns {
		fields = append(fields, arrow.Field{Name: col, Type: arrow.BinaryTypes.String, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	pool := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(pool, schema)
	defer builder.Release()

	for _, row := range table.Rows {
		for i, col := range table.Columns {
			cellB := builder.Field(i).(*array.StringBuilder)
			if v, ok := row[col]; ok {
				cellB.Append(v)
			} else {
				cellB.AppendNull()
			}
		}
	}

	record := builder.NewRecord()
	defer record.Release()

	return encodeRecord(schema, record)
}

// EncodeStringList serializes a single string column named "value"; used for
// the vessel roster snapshot.
func EncodeStringList(values []string) ([]byte, error) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: arrow.BinaryTypes.String},
	}, nil)

	pool := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(pool, schema)
	defer builder.Release()

	valueB := builder.Field(0).(*array.StringBuilder)
	for _, v := range values {
		valueB.Append(v)
	}

	record := builder.NewRecord()
	defer record.Release()

	return encodeRecord(schema, record)
}

// DecodeStringList deserializes a payload written by EncodeStringList.
func DecodeStringList(ctx context.Context, data []byte) ([]string, error) {
	table, err := decodeTable(ctx, data)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	cols, err := columnIndex(table, []string{"value"})
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, table.NumRows())
	err = forEachRow(table, func(row func(col int) (arrow.Array, int)) error {
		values = append(values, stringAt(row(cols[0])))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func columnIndex(table arrow.Table, names []string) ([]int, error) {
	schema := table.Schema()
	indexes := make([]int, len(names))
	for i, name := range names {
		fields := schema.FieldIndices(name)
		if len(fields) == 0 {
			return nil, fmt.Errorf("parquet data missing column %q", name)
		}
		indexes[i] = fields[0]
	}
	return indexes, nil
}

// forEachRow walks a chunked arrow table row by row. The callback receives an
// accessor resolving a column index to the chunk and in-chunk offset holding
// that row.
func forEachRow(table arrow.Table, fn func(row func(col int) (arrow.Array, int)) error) error {
	numRows := int(table.NumRows())
	for rowIdx := 0; rowIdx < numRows; rowIdx++ {
		accessor := func(col int) (arrow.Array, int) {
			offset := rowIdx
			for _, chunk := range table.Column(col).Data().Chunks() {
				if offset < chunk.Len() {
					return chunk, offset
				}
				offset -= chunk.Len()
			}
			return nil, 0
		}
		if err := fn(accessor); err != nil {
			return err
		}
	}
	return nil
}

func stringAt(arr arrow.Array, i int) string {
	s, ok := arr.(*array.String)
	if !ok || s.IsNull(i) {
		return ""
	}
	return s.Value(i)
}

func stringPtrAt(arr arrow.Array, i int) *string {
	s, ok := arr.(*array.String)
	if !ok || s.IsNull(i) {
		return nil
	}
	v := s.Value(i)
	return &v
}

func floatAt(arr arrow.Array, i int) *float64 {
	f, ok := arr.(*array.Float64)
	if !ok || f.IsNull(i) {
		return nil
	}
	v := f.Value(i)
	return &v
}
