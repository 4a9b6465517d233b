package httpapi

import (
	"net/http"

	"github.com/Guilhem-Bonnet/streamrec/internal/httpjson"
)

// handleOpenAPI décrit l'API v1 (document minimal, maintenu à la main).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	jsonOK := func(schemaRef string) map[string]any {
		return map[string]any{
			"description": "OK",
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": schemaRef},
				},
			},
		}
	}
	jsonList := func(schemaRef string) map[string]any {
		return map[string]any{
			"description": "OK",
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"type": "array", "items": map[string]any{"$ref": schemaRef}},
				},
			},
		}
	}
	jsonErr := map[string]any{
		"description": "Error",
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"$ref": "#/components/schemas/Error"},
			},
		},
	}
	idParam := func(typ string) map[string]any {
		return map[string]any{"name": "id", "in": "path", "required": true, "schema": map[string]any{"type": typ}}
	}
	str := map[string]any{"type": "string"}
	dateTime := map[string]any{"type": "string", "format": "date-time"}
	integer := map[string]any{"type": "integer"}

	spec := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "streamrec API",
			"version": "v1",
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"Error": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"error": str,
						"code":  str,
					},
					"required": []any{"error"},
				},
				"Status": map[string]any{
					"type": "string",
					"enum": []any{"pending", "active", "completed", "aborted"},
				},
				"Station": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":        str,
						"name":      str,
						"url":       str,
						"createdAt": dateTime,
					},
					"required": []any{"id", "url"},
				},
				"EnqueueRequest": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"stationId":   str,
						"startTime":   dateTime,
						"durationMin": map[string]any{"type": "integer", "minimum": 0, "maximum": 1439},
						"repeatRule":  str,
						"outputPath":  str,
					},
					"required": []any{"stationId", "startTime", "durationMin"},
				},
				"Entry": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":           integer,
						"stationId":    str,
						"stationName":  str,
						"startTime":    dateTime,
						"durationMin":  integer,
						"repeatRule":   str,
						"outputPath":   str,
						"observedSize": integer,
						"status":       map[string]any{"$ref": "#/components/schemas/Status"},
					},
				},
				"Object": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
				},
				"Recording": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"entryId":        integer,
						"runId":          str,
						"stationId":      str,
						"outputPath":     str,
						"phase":          str,
						"startedAt":      dateTime,
						"plannedSeconds": integer,
						"runtimeSeconds": integer,
						"size":           integer,
						"lastLine":       str,
					},
				},
			},
		},
		"paths": map[string]any{
			"/api/v1/health":  map[string]any{"get": map[string]any{"responses": map[string]any{"200": jsonOK("#/components/schemas/Object")}}},
			"/api/v1/version": map[string]any{"get": map[string]any{"responses": map[string]any{"200": jsonOK("#/components/schemas/Object")}}},
			"/api/v1/events": map[string]any{"get": map[string]any{
				"description": "Server-Sent Events (recording.*, schedule.*, station.*)",
				"responses":   map[string]any{"200": map[string]any{"description": "text/event-stream"}},
			}},
			"/api/v1/stations": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonList("#/components/schemas/Station")}},
				"post": map[string]any{
					"requestBody": map[string]any{"content": map[string]any{"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/Station"}}}},
					"responses":   map[string]any{"200": jsonOK("#/components/schemas/Station"), "400": jsonErr},
				},
			},
			"/api/v1/stations/{id}": map[string]any{
				"parameters": []any{idParam("string")},
				"get":        map[string]any{"responses": map[string]any{"200": jsonOK("#/components/schemas/Station"), "404": jsonErr}},
				"delete":     map[string]any{"responses": map[string]any{"204": map[string]any{"description": "deleted"}, "404": jsonErr, "409": jsonErr}},
			},
			"/api/v1/schedule": map[string]any{
				"get": map[string]any{
					"parameters": []any{map[string]any{"name": "status", "in": "query", "schema": map[string]any{"$ref": "#/components/schemas/Status"}}},
					"responses":  map[string]any{"200": jsonList("#/components/schemas/Entry"), "400": jsonErr},
				},
				"post": map[string]any{
					"requestBody": map[string]any{"content": map[string]any{"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/EnqueueRequest"}}}},
					"responses":   map[string]any{"201": jsonOK("#/components/schemas/Entry"), "400": jsonErr},
				},
			},
			"/api/v1/schedule/{id}": map[string]any{
				"parameters": []any{idParam("integer")},
				"get":        map[string]any{"responses": map[string]any{"200": jsonOK("#/components/schemas/Entry"), "404": jsonErr}},
				"delete":     map[string]any{"responses": map[string]any{"204": map[string]any{"description": "deleted"}, "404": jsonErr, "409": jsonErr}},
			},
			"/api/v1/recordings": map[string]any{"get": map[string]any{"responses": map[string]any{"200": jsonList("#/components/schemas/Recording")}}},
			"/api/v1/archive/{path}": map[string]any{"get": map[string]any{
				"responses": map[string]any{"200": map[string]any{"description": "recorded file (audio/mp2t)"}, "404": jsonErr},
			}},
		},
	}

	httpjson.Write(w, http.StatusOK, spec)
}
