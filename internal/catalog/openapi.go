package catalog

import (
	"errors"
	"strings"

	"github.com/pb33f/libopenapi"
	"github.com/pb33f/libopenapi/datamodel/high/base"
	v2high "github.com/pb33f/libopenapi/datamodel/high/v2"
	v3high "github.com/pb33f/libopenapi/datamodel/high/v3"

	"github.com/PentesterFlow/apimap/internal/endpoint"
	apperrors "github.com/PentesterFlow/apimap/internal/errors"
)

// operation is the subset of an OpenAPI operation used for doc references.
type operation struct {
	method       endpoint.Method
	externalDocs *base.ExternalDoc
	operationID  string
	summary      string
}

// ParseOpenAPI reads an OpenAPI 2.0 or 3.x document. Entries follow the
// document's path order, with methods in GET, POST, PUT, PATCH, DELETE order.
func ParseOpenAPI(source string, data []byte) ([]endpoint.Canonical, error) {
	document, err := libopenapi.NewDocument(data)
	if err != nil {
		return nil, apperrors.NewLoadError(source, 0, "invalid OpenAPI document", err)
	}

	if strings.HasPrefix(document.GetVersion(), "2") {
		return parseSwagger(source, document)
	}
	return parseOpenAPI3(source, document)
}

func parseSwagger(source string, document libopenapi.Document) ([]endpoint.Canonical, error) {
	docModel, errs := document.BuildV2Model()
	if docModel == nil {
		return nil, apperrors.NewLoadError(source, 0, "failed to build Swagger model", errors.Join(errs...))
	}

	model := docModel.Model
	basePath := strings.TrimSuffix(model.BasePath, "/")

	var entries []endpoint.Canonical
	if model.Paths == nil {
		return entries, nil
	}
	for pathPair := model.Paths.PathItems.First(); pathPair != nil; pathPair = pathPair.Next() {
		path := basePath + pathPair.Key()
		for _, op := range swaggerOperations(pathPair.Value()) {
			entries = append(entries, newCanonical(op, path, len(entries)))
		}
	}
	return entries, nil
}

func parseOpenAPI3(source string, document libopenapi.Document) ([]endpoint.Canonical, error) {
	docModel, errs := document.BuildV3Model()
	if docModel == nil {
		return nil, apperrors.NewLoadError(source, 0, "failed to build OpenAPI model", errors.Join(errs...))
	}

	model := docModel.Model

	var entries []endpoint.Canonical
	if model.Paths == nil {
		return entries, nil
	}
	for pathPair := model.Paths.PathItems.First(); pathPair != nil; pathPair = pathPair.Next() {
		path := pathPair.Key()
		for _, op := range openAPI3Operations(pathPair.Value()) {
			entries = append(entries, newCanonical(op, path, len(entries)))
		}
	}
	return entries, nil
}

func swaggerOperations(item *v2high.PathItem) []operation {
	if item == nil {
		return nil
	}
	var ops []operation
	add := func(m endpoint.Method, op *v2high.Operation) {
		if op != nil {
			ops = append(ops, operation{method: m, externalDocs: op.ExternalDocs, operationID: op.OperationId, summary: op.Summary})
		}
	}
	add(endpoint.MethodGet, item.Get)
	add(endpoint.MethodPost, item.Post)
	add(endpoint.MethodPut, item.Put)
	add(endpoint.MethodPatch, item.Patch)
	add(endpoint.MethodDelete, item.Delete)
	return ops
}

func openAPI3Operations(item *v3high.PathItem) []operation {
	if item == nil {
		return nil
	}
	var ops []operation
	add := func(m endpoint.Method, op *v3high.Operation) {
		if op != nil {
			ops = append(ops, operation{method: m, externalDocs: op.ExternalDocs, operationID: op.OperationId, summary: op.Summary})
		}
	}
	add(endpoint.MethodGet, item.Get)
	add(endpoint.MethodPost, item.Post)
	add(endpoint.MethodPut, item.Put)
	add(endpoint.MethodPatch, item.Patch)
	add(endpoint.MethodDelete, item.Delete)
	return ops
}

func newCanonical(op operation, path string, order int) endpoint.Canonical {
	return endpoint.Canonical{
		Method:       op.method,
		PathTemplate: path,
		DocReference: docReference(op),
		Order:        order,
	}
}

// docReference prefers the external docs URL, then the operation id, then
// the summary.
func docReference(op operation) string {
	if op.externalDocs != nil && op.externalDocs.URL != "" {
		return op.externalDocs.URL
	}
	if op.operationID != "" {
		return op.operationID
	}
	return op.summary
}
