// Package openapi holds the OpenAPI 3 description of the BFF's HTTP API,
// indexes its operations and validates request bodies against it.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/masterdata/model"
)

//go:embed masterdata.yaml
var document []byte

// Field error codes reported by ValidateRequest.
const (
	CodeBodyRequired = "BODY_REQUIRED"
	CodeSchema       = "SCHEMA_MISMATCH"
	CodeUnknownOp    = "UNKNOWN_OPERATION"
)

// IndexedOperation holds a resolved OpenAPI operation.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
}

// Index is an in-memory index of the API's operations keyed by operationId.
type Index struct {
	doc        *openapi3.T
	docJSON    []byte
	operations map[string]IndexedOperation
}

// Load parses and validates the embedded API document.
func Load() (*Index, error) {
	return LoadData(document)
}

// LoadData parses and validates an OpenAPI document and indexes all
// operations that carry an operationId.
func LoadData(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating document: %w", err)
	}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: encoding document: %w", err)
	}

	idx := &Index{
		doc:        doc,
		docJSON:    docJSON,
		operations: make(map[string]IndexedOperation),
	}
	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			// Path-level parameters first, then the operation's own.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			idx.operations[op.OperationID] = IndexedOperation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
			}
		}
	}
	return idx, nil
}

// Document returns the parsed document.
func (idx *Index) Document() *openapi3.T {
	return idx.doc
}

// GetOperation returns the indexed operation with the given operationId.
func (idx *Index) GetOperation(operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// AllOperationIDs returns all operation IDs, sorted.
func (idx *Index) AllOperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateRequest validates a decoded JSON body against the operation's
// request schema. A nil body means no body was sent. Returns nil if valid.
func (idx *Index) ValidateRequest(operationID string, body any) []model.FieldError {
	op, ok := idx.operations[operationID]
	if !ok {
		return []model.FieldError{{
			Code:    CodeUnknownOp,
			Message: fmt.Sprintf("operation %s not found", operationID),
		}}
	}
	if op.RequestBody == nil {
		return nil
	}
	if body == nil {
		if op.RequestBody.Required {
			return []model.FieldError{{Code: CodeBodyRequired, Message: "request body is required"}}
		}
		return nil
	}

	mt := op.RequestBody.Content.Get("application/json")
	if mt == nil || mt.Schema == nil || mt.Schema.Value == nil {
		return nil
	}
	if err := mt.Schema.Value.VisitJSON(body, openapi3.MultiErrors()); err != nil {
		return fieldErrors(err)
	}
	return nil
}

func fieldErrors(err error) []model.FieldError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []model.FieldError
		for _, e := range multi {
			out = append(out, fieldErrors(e)...)
		}
		return out
	}

	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		return []model.FieldError{{
			Field:   strings.Join(se.JSONPointer(), "."),
			Code:    CodeSchema,
			Message: se.Reason,
		}}
	}
	return []model.FieldError{{Code: CodeSchema, Message: err.Error()}}
}

// ServeHTTP writes the document as JSON.
func (idx *Index) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(idx.docJSON)
}
