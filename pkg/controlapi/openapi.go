package controlapi

import "github.com/getkin/kin-openapi/openapi3"

func strType(t string) *openapi3.Types { return &openapi3.Types{t} }

func schemaRef(s *openapi3.Schema) *openapi3.SchemaRef { return &openapi3.SchemaRef{Value: s} }

func ptrStr(s string) *string { return &s }

var deviceSchema = schemaRef(&openapi3.Schema{
	Type: strType("object"),
	Properties: openapi3.Schemas{
		"interface": schemaRef(&openapi3.Schema{Type: strType("string")}),
		"if_index":  schemaRef(&openapi3.Schema{Type: strType("integer")}),
		"state":     schemaRef(&openapi3.Schema{Type: strType("string")}),
		"lease":     leaseSchema,
	},
})

var leaseSchema = schemaRef(&openapi3.Schema{
	Type: strType("object"),
	Properties: openapi3.Schemas{
		"addresses":   schemaRef(&openapi3.Schema{Type: strType("array"), Items: schemaRef(&openapi3.Schema{Type: strType("string")})}),
		"t1_seconds":  schemaRef(&openapi3.Schema{Type: strType("number")}),
		"t2_seconds":  schemaRef(&openapi3.Schema{Type: strType("number")}),
		"acquired_at": schemaRef(&openapi3.Schema{Type: strType("string"), Format: "date-time"}),
	},
})

var errorSchema = schemaRef(&openapi3.Schema{
	Type: strType("object"),
	Properties: openapi3.Schemas{
		"error": schemaRef(&openapi3.Schema{Type: strType("string")}),
	},
})

var statusSchema = schemaRef(&openapi3.Schema{
	Type: strType("object"),
	Properties: openapi3.Schemas{
		"status": schemaRef(&openapi3.Schema{Type: strType("string")}),
	},
})

func jsonResponse(desc string, schema *openapi3.SchemaRef) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: ptrStr(desc),
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func buildOpenAPISpec() *openapi3.T {
	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "wicked control API",
			Description: "Read-only interface/lease state and the renew/release actions for a DHCPv6 client daemon.",
			Version:     "1.0.0",
		},
		Paths: &openapi3.Paths{},
	}

	nameParam := &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:     "name",
			In:       "path",
			Required: true,
			Schema:   schemaRef(&openapi3.Schema{Type: strType("string")}),
		},
	}

	spec.Paths.Set("/v1/interfaces", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listInterfaces",
			Summary:     "List every managed interface and its current state",
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(200, jsonResponse("interfaces", schemaRef(&openapi3.Schema{
					Type:  strType("array"),
					Items: deviceSchema,
				}))),
			),
		},
	})

	spec.Paths.Set("/v1/interfaces/{name}/lease", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "getLease",
			Summary:     "Get the interface's current bound lease",
			Parameters:  openapi3.Parameters{nameParam},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(200, jsonResponse("lease", leaseSchema)),
				openapi3.WithStatus(404, jsonResponse("no lease bound", errorSchema)),
			),
		},
	})

	spec.Paths.Set("/v1/interfaces/{name}/renew", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "renew",
			Summary:     "Trigger an early renew on a bound interface",
			Parameters:  openapi3.Parameters{nameParam},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(202, jsonResponse("accepted", statusSchema)),
				openapi3.WithStatus(404, jsonResponse("unknown interface", errorSchema)),
			),
		},
	})

	spec.Paths.Set("/v1/interfaces/{name}/release", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "release",
			Summary:     "Release the interface's current lease",
			Parameters:  openapi3.Parameters{nameParam},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(202, jsonResponse("accepted", statusSchema)),
				openapi3.WithStatus(404, jsonResponse("unknown interface", errorSchema)),
			),
		},
	})

	spec.Paths.Set("/v1/events", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "streamEvents",
			Summary:     "Server-sent event stream of state changes, lease events, and link events",
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(200, &openapi3.ResponseRef{
					Value: &openapi3.Response{
						Description: ptrStr("text/event-stream of events.Event JSON payloads"),
					},
				}),
			),
		},
	})

	return spec
}
