package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/dsl"
	"github.com/r3data-core/rdatacore/internal/entity"
)

// pipelineActor is recorded as created_by/updated_by for entity mutations
// the executor makes on a workflow's behalf, distinguishing them from
// operator-driven changes in the Entity Store's version history.
const pipelineActor = "pipeline-executor"

// EntityWriter is the Entity Store surface the `entity` to-kind writes
// through. Implemented by *entity.Store.
type EntityWriter interface {
	Create(ctx context.Context, entityType string, fieldData map[string]any, actor, parentPath string) (*entity.Entity, error)
	Update(ctx context.Context, entityType, id string, patch map[string]any, actor string) (*entity.Entity, error)
	FindByField(ctx context.Context, entityType, field string, value any) (*entity.Entity, error)
}

// Sink emits a row to a step's `to` destination (§4.F step 3).
type Sink interface {
	Emit(ctx context.Context, to dsl.To, row dsl.Row) error
}

// CatalogueSink dispatches against the closed To catalogue (§4.E): format,
// entity.
type CatalogueSink struct {
	entities EntityWriter
	http     *http.Client
	limiters *DestinationLimiters
}

// NewCatalogueSink builds a CatalogueSink. limiters may be nil to disable
// outbound rate limiting (e.g. in tests).
func NewCatalogueSink(entities EntityWriter, client *http.Client, limiters *DestinationLimiters) *CatalogueSink {
	if client == nil {
		client = http.DefaultClient
	}

	return &CatalogueSink{entities: entities, http: client, limiters: limiters}
}

// Emit implements Sink.
func (s *CatalogueSink) Emit(ctx context.Context, to dsl.To, row dsl.Row) error {
	switch to.Kind {
	case "entity":
		return s.emitEntity(ctx, to, row)
	case "format":
		return s.emitFormat(ctx, to, row)
	default:
		return apierrors.New(apierrors.KindUnknownStepKind, "unknown to kind: "+to.Kind)
	}
}

// emitEntity writes row through the Entity Store per §4.E's three modes.
// create_or_update falls back to create when update_key matches nothing;
// per the Open Question on this exact behaviour, that fallback counts the
// row as processed, not failed — a silent fallback that fails the row
// would make create_or_update strictly worse than plain create.
func (s *CatalogueSink) emitEntity(ctx context.Context, to dsl.To, row dsl.Row) error {
	entityType, _ := to.Options["entity_type"].(string)
	mode, _ := to.Options["mode"].(string)

	switch mode {
	case "update":
		updateKey, _ := to.Options["update_key"].(string)

		found, err := s.findByUpdateKey(ctx, entityType, updateKey, row)
		if err != nil {
			return err
		}

		_, err = s.entities.Update(ctx, entityType, found.ID, row, pipelineActor)

		return err
	case "create_or_update":
		updateKey, _ := to.Options["update_key"].(string)

		found, err := s.findByUpdateKey(ctx, entityType, updateKey, row)
		if err == nil {
			_, err = s.entities.Update(ctx, entityType, found.ID, row, pipelineActor)
			return err
		}

		_, err = s.entities.Create(ctx, entityType, row, pipelineActor, "/")

		return err
	default: // "create"
		_, err := s.entities.Create(ctx, entityType, row, pipelineActor, "/")
		return err
	}
}

func (s *CatalogueSink) findByUpdateKey(ctx context.Context, entityType, updateKey string, row dsl.Row) (*entity.Entity, error) {
	value, ok := row[updateKey]
	if !ok {
		return nil, apierrors.New(apierrors.KindUnresolvedMapping, "update_key not present in row: "+updateKey)
	}

	return s.entities.FindByField(ctx, entityType, updateKey, value)
}

// emitFormat supports output mode "push": one HTTP request per row,
// per §4.F step 3 ("to.format:push sends one HTTP request per row unless
// the destination declares batch support, not yet in the catalogue").
// Modes "api" and "download" need a persisted, independently retrievable
// run output that no component in this engine serves yet (the admin HTTP
// surface is out of scope, per DESIGN.md); they are rejected rather than
// silently dropped.
func (s *CatalogueSink) emitFormat(ctx context.Context, to dsl.To, row dsl.Row) error {
	format, _ := to.Options["format"].(string)
	output, _ := to.Options["output"].(string)

	if output != "push" {
		return apierrors.New(apierrors.KindIncompatibleOutput, "to.format output mode not supported by this executor: "+output)
	}

	url, _ := to.Options["url"].(string)
	method, _ := to.Options["method"].(string)

	if method == "" {
		method = http.MethodPost
	}

	body, err := encodeRow(format, row)
	if err != nil {
		return err
	}

	if s.limiters != nil {
		if err := s.limiters.Wait(ctx, url); err != nil {
			return apierrors.Wrap(apierrors.KindCancelled, "rate limit wait for to.format push", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return apierrors.Wrap(apierrors.KindConfig, "build to.format push request", err)
	}

	req.Header.Set("Content-Type", contentType(format))

	if headers, ok := to.Options["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "push to.format destination", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apierrors.New(apierrors.KindStorage, fmt.Sprintf("to.format push destination returned status %d", resp.StatusCode))
	}

	if resp.StatusCode >= 400 {
		return apierrors.New(apierrors.KindValidation, fmt.Sprintf("to.format push destination rejected row: status %d", resp.StatusCode))
	}

	return nil
}

func encodeRow(format string, row dsl.Row) ([]byte, error) {
	switch format {
	case "json":
		payload, err := json.Marshal(map[string]any(row))
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindUnexpected, "encode json row", err)
		}

		return payload, nil
	case "csv":
		return encodeCSVRow(row)
	default:
		return nil, apierrors.New(apierrors.KindIncompatibleOutput, "unknown format handler: "+format)
	}
}

func encodeCSVRow(row dsl.Row) ([]byte, error) {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}

	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	if err := w.Write(cols); err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "write csv header", err)
	}

	values := make([]string, len(cols))
	for i, c := range cols {
		values[i] = fmt.Sprint(row[c])
	}

	if err := w.Write(values); err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "write csv row", err)
	}

	w.Flush()

	return buf.Bytes(), w.Error()
}

func contentType(format string) string {
	if format == "csv" {
		return "text/csv"
	}

	return "application/json"
}
