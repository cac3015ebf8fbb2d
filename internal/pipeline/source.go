package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/dsl"
	"github.com/r3data-core/rdatacore/internal/entity"
)

// UploadResolver fetches the raw bytes a run's uploaded-file reference
// points at (§3 Run.uploaded-file). Storage of the upload itself is outside
// this package; any backend (local disk, object storage) can implement it.
type UploadResolver interface {
	Resolve(ctx context.Context, reference string) ([]byte, error)
}

// EntityQuerier is the Entity Store surface the `entity` from-kind reads
// through. Implemented by *entity.Store.
type EntityQuerier interface {
	Query(ctx context.Context, entityType string, filter entity.QueryFilter, page entity.Page) ([]entity.Entity, error)
}

// Source resolves a step's `from` clause into a finite row set ready for
// staging (§4.F step 1).
type Source interface {
	Fetch(ctx context.Context, from dsl.From, uploadedFile *string) ([]dsl.Row, error)
}

// CatalogueSource dispatches against the closed From catalogue (§4.E):
// uri, upload, entity, format.
type CatalogueSource struct {
	entities EntityQuerier
	uploads  UploadResolver
	http     *http.Client
	limiters *DestinationLimiters
}

// NewCatalogueSource builds a CatalogueSource. limiters may be nil to
// disable outbound rate limiting (e.g. in tests).
func NewCatalogueSource(entities EntityQuerier, uploads UploadResolver, client *http.Client, limiters *DestinationLimiters) *CatalogueSource {
	if client == nil {
		client = http.DefaultClient
	}

	return &CatalogueSource{entities: entities, uploads: uploads, http: client, limiters: limiters}
}

// Fetch implements Source.
func (s *CatalogueSource) Fetch(ctx context.Context, from dsl.From, uploadedFile *string) ([]dsl.Row, error) {
	switch from.Kind {
	case "uri":
		return s.fetchURI(ctx, from)
	case "upload":
		return s.fetchUpload(ctx, from, uploadedFile)
	case "entity":
		return s.fetchEntity(ctx, from)
	case "format":
		return s.fetchFormat(ctx, from)
	default:
		return nil, apierrors.New(apierrors.KindUnknownStepKind, "unknown from kind: "+from.Kind)
	}
}

func (s *CatalogueSource) fetchURI(ctx context.Context, from dsl.From) ([]dsl.Row, error) {
	url, _ := from.Options["url"].(string)
	method, _ := from.Options["method"].(string)

	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if template, ok := from.Options["body"].(string); ok && template != "" {
		body = strings.NewReader(template)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "build from.uri request", err)
	}

	if headers, ok := from.Options["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	if s.limiters != nil {
		if err := s.limiters.Wait(ctx, url); err != nil {
			return nil, apierrors.Wrap(apierrors.KindCancelled, "rate limit wait for from.uri", err)
		}
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "fetch from.uri", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "read from.uri response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, apierrors.New(apierrors.KindStorage, fmt.Sprintf("from.uri returned status %d", resp.StatusCode))
	}

	format, _ := from.Options["format"].(string)
	if format == "" {
		format = "json"
	}

	return decodeRows(format, raw)
}

func (s *CatalogueSource) fetchUpload(ctx context.Context, from dsl.From, uploadedFile *string) ([]dsl.Row, error) {
	if uploadedFile == nil || *uploadedFile == "" {
		return nil, apierrors.New(apierrors.KindMissingOption, "from.upload requires a run with an uploaded file")
	}

	if s.uploads == nil {
		return nil, apierrors.New(apierrors.KindConfig, "from.upload requires an upload resolver")
	}

	raw, err := s.uploads.Resolve(ctx, *uploadedFile)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "resolve uploaded file", err)
	}

	format, _ := from.Options["format"].(string)
	if format == "" {
		format = "csv"
	}

	return decodeRows(format, raw)
}

func (s *CatalogueSource) fetchEntity(ctx context.Context, from dsl.From) ([]dsl.Row, error) {
	entityType, _ := from.Options["entity_type"].(string)

	filter := entity.QueryFilter{}
	if path, ok := from.Options["path"].(string); ok && path != "" {
		filter.Path = &path
	}

	if parent, ok := from.Options["parent"].(string); ok && parent != "" {
		filter.Parent = &parent
	}

	const pageSize = 1000

	var (
		rows []dsl.Row
		page = entity.Page{Limit: pageSize, Offset: 0}
	)

	for {
		entities, err := s.entities.Query(ctx, entityType, filter, page)
		if err != nil {
			return nil, err
		}

		for _, e := range entities {
			rows = append(rows, entityToRow(e))
		}

		if len(entities) < pageSize {
			break
		}

		page.Offset += pageSize
	}

	return rows, nil
}

func (s *CatalogueSource) fetchFormat(_ context.Context, from dsl.From) ([]dsl.Row, error) {
	format, _ := from.Options["format"].(string)

	input, _ := from.Options["input"].(string)
	if input == "" {
		return nil, apierrors.New(apierrors.KindMissingOption, "from.format requires an input payload")
	}

	return decodeRows(format, []byte(input))
}

func entityToRow(e entity.Entity) dsl.Row {
	row := make(dsl.Row, len(e.Fields)+3)

	for k, v := range e.Fields {
		row[k] = v
	}

	row["id"] = e.ID
	row["entity_type"] = e.Type
	row["path"] = e.Path

	return row
}

func decodeRows(format string, raw []byte) ([]dsl.Row, error) {
	switch format {
	case "json":
		return decodeJSONRows(raw)
	case "csv":
		return decodeCSVRows(raw)
	default:
		return nil, apierrors.New(apierrors.KindIncompatibleOutput, "unknown format handler: "+format)
	}
}

// decodeJSONRows parses a JSON array of objects with gjson rather than a
// full encoding/json unmarshal, the way r3e-network-service_layer pulls
// fields out of upstream JSON without materialising a generic tree first
// (§4.C). Nested objects are flattened to dotted keys (e.g. "address.city")
// so a Step's From/Transform options can address them as plain row keys
// without a jsonpath lookup for every nested field.
func decodeJSONRows(raw []byte) ([]dsl.Row, error) {
	top := gjson.ParseBytes(raw)
	if !top.IsArray() {
		return nil, apierrors.New(apierrors.KindTypeMismatch, "decode json rows: top-level value is not an array")
	}

	var (
		rows      []dsl.Row
		decodeErr error
	)

	top.ForEach(func(_, record gjson.Result) bool {
		if !record.IsObject() {
			decodeErr = apierrors.New(apierrors.KindTypeMismatch, "decode json rows: array element is not an object")
			return false
		}

		row := make(dsl.Row, 8)
		flattenJSONObject("", record, row)
		rows = append(rows, row)

		return true
	})

	if decodeErr != nil {
		return nil, decodeErr
	}

	return rows, nil
}

// flattenJSONObject writes obj's fields into row, recursing into nested
// objects with a dotted key prefix. Arrays and scalars are stored as-is via
// gjson.Result.Value(), which decodes to the same Go types encoding/json
// would produce.
func flattenJSONObject(prefix string, obj gjson.Result, row dsl.Row) {
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if prefix != "" {
			name = prefix + "." + name
		}

		if value.IsObject() {
			flattenJSONObject(name, value, row)
		} else {
			row[name] = value.Value()
		}

		return true
	})
}

func decodeCSVRows(raw []byte) ([]dsl.Row, error) {
	reader := csv.NewReader(bytes.NewReader(raw))

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}

		return nil, apierrors.Wrap(apierrors.KindTypeMismatch, "read csv header", err)
	}

	var rows []dsl.Row

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindTypeMismatch, "read csv row", err)
		}

		row := make(dsl.Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}

		rows = append(rows, row)
	}

	return rows, nil
}
