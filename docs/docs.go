// Package docs registers the OpenAPI document served at /openapi.json.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/auth/token": {
            "post": {
                "tags": ["Auth"],
                "summary": "Issue an API token",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/authhttp.TokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authhttp.TokenResponse"}},
                    "401": {"description": "Unauthorized"}
                }
            }
        },
        "/chart": {
            "get": {
                "tags": ["Chart"],
                "summary": "Chart validator status",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/chart/validate": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chart"],
                "summary": "Validate an uploaded chart screenshot",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "file", "name": "file", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/verdict.Verdict"}},
                    "400": {"description": "Bad Request"},
                    "413": {"description": "Payload Too Large"},
                    "422": {"description": "Image could not be decoded"}
                }
            }
        },
        "/chart/validate/url": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chart"],
                "summary": "Validate a chart screenshot by URL",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/charthttp.URLRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/verdict.Verdict"}},
                    "400": {"description": "Bad Request"},
                    "413": {"description": "Payload Too Large"},
                    "422": {"description": "Image could not be decoded"}
                }
            }
        },
        "/chart/validate/base64": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chart"],
                "summary": "Validate a base64 encoded chart screenshot",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/charthttp.Base64Request"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/verdict.Verdict"}},
                    "413": {"description": "Payload Too Large"},
                    "422": {"description": "Image could not be decoded"}
                }
            }
        },
        "/chart/validate/batch": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chart"],
                "summary": "Validate several chart screenshots",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "file", "name": "files[]", "in": "formData", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "413": {"description": "Payload Too Large"}}
            }
        },
        "/chart/verdicts": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chart"],
                "summary": "List recent verdicts",
                "parameters": [
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/verdict.Verdict"}}}
                }
            }
        },
        "/chart/verdicts/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chart"],
                "summary": "Get a verdict",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/verdict.Verdict"}},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/system/status": {
            "get": {
                "tags": ["System"],
                "summary": "System status",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "authhttp.TokenRequest": {
            "type": "object",
            "properties": {
                "client_id": {"type": "string"},
                "server_token": {"type": "string"}
            }
        },
        "authhttp.TokenResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "token_type": {"type": "string"},
                "client_id": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        },
        "charthttp.URLRequest": {
            "type": "object",
            "properties": {"url": {"type": "string"}}
        },
        "charthttp.Base64Request": {
            "type": "object",
            "properties": {
                "data": {"type": "string"},
                "format": {"type": "string"}
            }
        },
        "verdict.Verdict": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "digest": {"type": "string"},
                "source": {"type": "string"},
                "format": {"type": "string"},
                "width": {"type": "integer"},
                "height": {"type": "integer"},
                "accepted": {"type": "boolean"},
                "score": {"type": "integer"},
                "reason": {"type": "string"},
                "outcome": {"type": "string", "enum": ["accepted", "below_threshold", "decode_failure", "degenerate_input"]},
                "metrics": {"type": "object"},
                "checks": {"type": "object"},
                "created_at": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "chartlens API",
	Description:      "Chart screenshot validator: upload an image, get a verdict.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
