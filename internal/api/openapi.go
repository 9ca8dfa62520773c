// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package api

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"
	"github.com/swaggo/swag"
)

// OpenAPIInfo is the registered API document. Host is left empty so the UI
// targets whatever host served it.
var OpenAPIInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Threatwatch API",
	Description:      "Security threat event pipeline: submission classification, alerts, live statistics and reports.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  openAPITemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(OpenAPIInfo.InstanceName(), OpenAPIInfo)
}

// swaggerHandler serves the UI under /swagger/ and the document at
// /swagger/doc.json.
func swaggerHandler() http.HandlerFunc {
	return httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	)
}

const openAPITemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}",
        "license": {
            "name": "AGPL-3.0-or-later",
            "url": "https://www.gnu.org/licenses/agpl-3.0.html"
        }
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/events": {
            "post": {
                "tags": ["events"],
                "summary": "Submit content for classification",
                "parameters": [
                    {"name": "Idempotency-Key", "in": "header", "type": "string"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/Submission"}}
                ],
                "responses": {
                    "200": {"description": "Replay of an earlier submission with the same idempotency key"},
                    "201": {"description": "Event stored"},
                    "400": {"description": "VALIDATION_ERROR"},
                    "429": {"description": "TOO_MANY_REQUESTS"},
                    "503": {"description": "CLASSIFICATION_ERROR or STORE_UNAVAILABLE"}
                }
            },
            "get": {
                "tags": ["events"],
                "summary": "Query stored events, newest first",
                "parameters": [
                    {"name": "owner", "in": "query", "type": "string"},
                    {"name": "channel", "in": "query", "type": "string", "enum": ["email", "sms", "login"]},
                    {"name": "severity", "in": "query", "type": "string", "enum": ["low", "medium", "high", "critical"]},
                    {"name": "status", "in": "query", "type": "string", "enum": ["detected", "blocked", "quarantined", "reviewed"]},
                    {"name": "classification", "in": "query", "type": "string", "enum": ["safe", "threat"]},
                    {"name": "since", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "until", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "limit", "in": "query", "type": "integer", "default": 50, "maximum": 1000},
                    {"name": "offset", "in": "query", "type": "integer", "default": 0}
                ],
                "responses": {"200": {"description": "Page of events with the total match count"}}
            }
        },
        "/events/{id}": {
            "get": {
                "tags": ["events"],
                "summary": "Get one event",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "Event"}, "404": {"description": "NOT_FOUND"}}
            }
        },
        "/notifications": {
            "get": {
                "tags": ["notifications"],
                "summary": "List notifications, newest first",
                "parameters": [
                    {"name": "owner", "in": "query", "required": true, "type": "string"},
                    {"name": "unread", "in": "query", "type": "boolean"}
                ],
                "responses": {"200": {"description": "Notifications"}}
            }
        },
        "/notifications/unread-count": {
            "get": {
                "tags": ["notifications"],
                "summary": "Count unread notifications",
                "parameters": [{"name": "owner", "in": "query", "required": true, "type": "string"}],
                "responses": {"200": {"description": "Unread count"}}
            }
        },
        "/notifications/{id}/read": {
            "post": {
                "tags": ["notifications"],
                "summary": "Mark one notification read",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "Notification"}, "404": {"description": "NOT_FOUND"}}
            }
        },
        "/notifications/read-all": {
            "post": {
                "tags": ["notifications"],
                "summary": "Mark every notification of an owner read",
                "parameters": [{"name": "owner", "in": "query", "required": true, "type": "string"}],
                "responses": {"200": {"description": "Number of notifications marked"}}
            }
        },
        "/alerts": {
            "get": {
                "tags": ["alerts"],
                "summary": "List alerts, newest first",
                "parameters": [{"name": "owner", "in": "query", "required": true, "type": "string"}],
                "responses": {"200": {"description": "Alerts"}}
            }
        },
        "/alerts/{id}/resolve": {
            "post": {
                "tags": ["alerts"],
                "summary": "Resolve an alert",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "Alert"}, "404": {"description": "NOT_FOUND"}}
            }
        },
        "/stats": {
            "get": {
                "tags": ["stats"],
                "summary": "Current rolling statistics",
                "parameters": [{"name": "owner", "in": "query", "required": true, "type": "string"}],
                "responses": {"200": {"description": "Statistics snapshot"}}
            }
        },
        "/stats/trends": {
            "get": {
                "tags": ["stats"],
                "summary": "Per-day threat trends",
                "parameters": [
                    {"name": "owner", "in": "query", "required": true, "type": "string"},
                    {"name": "days", "in": "query", "type": "integer", "maximum": 366}
                ],
                "responses": {"200": {"description": "Dashboard"}}
            }
        },
        "/reports": {
            "post": {
                "tags": ["reports"],
                "summary": "Generate a report",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportRequest"}}],
                "responses": {
                    "200": {"description": "Rendered report with mime type and file name"},
                    "400": {"description": "VALIDATION_ERROR"},
                    "500": {"description": "GENERATION_ERROR"}
                }
            }
        },
        "/ws": {
            "get": {
                "tags": ["stream"],
                "summary": "Live dashboard stream (websocket upgrade)",
                "parameters": [
                    {"name": "owner", "in": "query", "required": true, "type": "string"},
                    {"name": "channel", "in": "query", "type": "string"},
                    {"name": "severity", "in": "query", "type": "string"}
                ],
                "responses": {"101": {"description": "Snapshot, then delta, event and notification messages"}}
            }
        },
        "/health/live": {
            "get": {"tags": ["health"], "summary": "Liveness probe", "responses": {"200": {"description": "Alive"}}}
        },
        "/health/ready": {
            "get": {
                "tags": ["health"],
                "summary": "Readiness probe",
                "responses": {"200": {"description": "Ready"}, "503": {"description": "SERVICE_UNAVAILABLE"}}
            }
        }
    },
    "definitions": {
        "Submission": {
            "type": "object",
            "required": ["channel", "content", "owner"],
            "properties": {
                "channel": {"type": "string", "enum": ["email", "sms", "login"]},
                "source": {"type": "string"},
                "target": {"type": "string"},
                "content": {"type": "string"},
                "owner": {"type": "string"},
                "idempotency_key": {"type": "string"},
                "flagged": {"type": "boolean"}
            }
        },
        "ReportRequest": {
            "type": "object",
            "required": ["owner"],
            "properties": {
                "owner": {"type": "string"},
                "report_type": {"type": "string", "enum": ["security", "threats", "training"]},
                "time_period": {"type": "string", "enum": ["week", "month", "quarter", "year", "custom"]},
                "format": {"type": "string", "enum": ["text", "json", "csv"]},
                "from": {"type": "string", "format": "date-time"},
                "to": {"type": "string", "format": "date-time"}
            }
        }
    }
}`
