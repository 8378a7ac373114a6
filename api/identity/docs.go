// Package identity holds the generated OpenAPI description of the identity server.
//
// Regenerate with:
//
//	swag init -g internal/identity/http/router.go -o api/identity --parseDependency --parseInternal
package identity

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "AussieBroadWAN Team",
            "url": "https://github.com/aussiebroadwan/nativeid"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/livez": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "status, uptime, version"}}
            }
        },
        "/readyz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "status, uptime, version, checks"},
                    "503": {"description": "service not ready"}
                }
            }
        },
        "/.well-known/openid-configuration": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "OpenID Provider metadata",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/.well-known/jwks.json": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "JSON Web Key Set",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/authenticate": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Credentials"],
                "summary": "Sign in with username and password",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "access_denied"},
                    "403": {"description": "mfa_required"}
                }
            }
        },
        "/oauth2/authorize": {
            "get": {
                "tags": ["OAuth2"],
                "summary": "Authorization endpoint",
                "responses": {
                    "302": {"description": "Redirect to the client, login or consent page"},
                    "400": {"description": "invalid_request"}
                }
            }
        },
        "/oauth2/token": {
            "post": {
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Token endpoint",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "invalid_request, invalid_grant, unsupported_grant_type"},
                    "401": {"description": "invalid_client"}
                }
            }
        },
        "/oauth2/userinfo": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "OIDC userinfo",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "invalid_token"}
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "First-party access token. Format: \"Bearer {token}\".",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Native Identity Server API",
	Description:      "First-party credential and MFA management, an OAuth2 authorization code server with\nOpenID Connect and sign-in through external identity providers.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
