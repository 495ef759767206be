package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "{{.Title}}",
    "description": "{{escape .Description}}",
    "version": "{{.Version}}"
  },
  "basePath": "{{.BasePath}}",
  "securityDefinitions": {
    "AdminKey": {"type": "apiKey", "in": "header", "name": "X-Admin-Key"}
  },
  "paths": {
    "/health": {"get": {"tags": ["health"], "summary": "Liveness", "produces": ["application/json"], "responses": {"200": {"description": "ok"}}}},
    "/healthz": {"get": {"tags": ["health"], "summary": "Readiness", "responses": {"200": {"description": "ok"}, "503": {"description": "database unavailable"}}}},
    "/api/complaints": {
      "get": {"tags": ["complaints"], "summary": "List complaints", "parameters": [
        {"name": "status", "in": "query", "type": "string"},
        {"name": "category", "in": "query", "type": "string"},
        {"name": "limit", "in": "query", "type": "integer"},
        {"name": "offset", "in": "query", "type": "integer"}
      ], "responses": {"200": {"description": "ok"}}},
      "post": {"tags": ["complaints"], "summary": "Submit a complaint", "consumes": ["application/json"], "parameters": [
        {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
      ], "responses": {"201": {"description": "created"}, "400": {"description": "validation error"}}}
    },
    "/api/complaints/nearby": {"get": {"tags": ["complaints"], "summary": "Open complaints near a point", "parameters": [
      {"name": "lat", "in": "query", "type": "number", "required": true},
      {"name": "lon", "in": "query", "type": "number", "required": true},
      {"name": "radius_km", "in": "query", "type": "number"}
    ], "responses": {"200": {"description": "ok"}}}},
    "/api/complaints/{id}": {"get": {"tags": ["complaints"], "summary": "Complaint details", "parameters": [
      {"name": "id", "in": "path", "type": "string", "required": true}
    ], "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}}},
    "/api/complaints/{id}/withdraw": {"post": {"tags": ["complaints"], "summary": "Withdraw a complaint", "parameters": [
      {"name": "id", "in": "path", "type": "string", "required": true}
    ], "responses": {"200": {"description": "ok"}, "409": {"description": "already assigned"}}}},
    "/api/complaints/{id}/status": {"post": {"tags": ["complaints"], "summary": "Advance a complaint", "parameters": [
      {"name": "id", "in": "path", "type": "string", "required": true},
      {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
    ], "responses": {"200": {"description": "ok"}, "409": {"description": "invalid transition"}}}},
    "/api/complaints/{id}/reassign": {"post": {"tags": ["dispatch"], "summary": "Reassign a complaint", "security": [{"AdminKey": []}], "parameters": [
      {"name": "id", "in": "path", "type": "string", "required": true},
      {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
    ], "responses": {"200": {"description": "ok"}, "401": {"description": "invalid admin key"}}}},
    "/api/technicians": {
      "get": {"tags": ["technicians"], "summary": "List technicians", "parameters": [
        {"name": "availability", "in": "query", "type": "string"}
      ], "responses": {"200": {"description": "ok"}}},
      "post": {"tags": ["technicians"], "summary": "Register a technician", "parameters": [
        {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
      ], "responses": {"201": {"description": "created"}, "409": {"description": "already registered"}}}
    },
    "/api/technicians/{id}": {"get": {"tags": ["technicians"], "summary": "Technician details", "parameters": [
      {"name": "id", "in": "path", "type": "string", "required": true}
    ], "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}}},
    "/api/technicians/{id}/location": {"post": {"tags": ["technicians"], "summary": "Report a technician location", "parameters": [
      {"name": "id", "in": "path", "type": "string", "required": true},
      {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
    ], "responses": {"200": {"description": "ok"}, "422": {"description": "stale location"}}}},
    "/api/dispatch/next": {"get": {"tags": ["dispatch"], "summary": "Next job for a technician", "parameters": [
      {"name": "technician_id", "in": "query", "type": "string", "required": true}
    ], "responses": {"200": {"description": "ok"}}}},
    "/api/dispatch/queue": {"get": {"tags": ["dispatch"], "summary": "Pending dispatch queue", "security": [{"AdminKey": []}], "responses": {"200": {"description": "ok"}}}},
    "/api/dispatch/run": {"post": {"tags": ["dispatch"], "summary": "Retry the dispatch queue now", "security": [{"AdminKey": []}], "responses": {"200": {"description": "ok"}}}},
    "/api/sla/breaches": {"get": {"tags": ["sla"], "summary": "Complaints that breached their SLA", "responses": {"200": {"description": "ok"}}}},
    "/api/sla/policy": {"get": {"tags": ["sla"], "summary": "SLA targets per category", "responses": {"200": {"description": "ok"}}}},
    "/api/sla/check": {"post": {"tags": ["sla"], "summary": "Run the SLA check now", "security": [{"AdminKey": []}], "responses": {"200": {"description": "ok"}}}},
    "/api/dashboard/stats": {"get": {"tags": ["dashboard"], "summary": "Dashboard counters", "responses": {"200": {"description": "ok"}}}},
    "/api/dashboard/category-distribution": {"get": {"tags": ["dashboard"], "summary": "Complaints per category", "responses": {"200": {"description": "ok"}}}},
    "/api/dashboard/complaint-trends": {"get": {"tags": ["dashboard"], "summary": "Complaints per day", "parameters": [{"name": "days", "in": "query", "type": "integer"}], "responses": {"200": {"description": "ok"}, "400": {"description": "bad window"}}}}
  }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	BasePath:         "/",
	Title:            "GIS Utility Complaint Dispatch API",
	Description:      "Complaint intake, technician dispatch and SLA monitoring",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
