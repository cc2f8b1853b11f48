package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "CoursePay API",
        "description": "Payment orchestration for paid course enrollments",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Authentication"},
        {"name": "Payments", "description": "Checkout, verification and webhooks"},
        {"name": "Admin", "description": "Transaction management and resolution"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate and issue an access token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/payments/initiate": {
            "post": {
                "tags": ["Payments"],
                "summary": "Start a checkout for a course enrollment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/InitiatePaymentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Checkout created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Free course or invalid payload"},
                    "409": {"description": "Enrollment already active"}
                }
            }
        },
        "/payments/verify/{reference}": {
            "get": {
                "tags": ["Payments"],
                "summary": "Verify a payment reference against the gateway",
                "parameters": [
                    {"name": "reference", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Verification report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown reference"},
                    "502": {"description": "Gateway unreachable"}
                }
            }
        },
        "/payments/retry": {
            "post": {
                "tags": ["Payments"],
                "summary": "Issue a fresh checkout for a pending enrollment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RetryPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "New checkout or auto-activation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Enrollment already active"}
                }
            }
        },
        "/payments/enrollment/{id}": {
            "get": {
                "tags": ["Payments"],
                "summary": "List payments recorded against an enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/webhooks/gateway": {
            "post": {
                "tags": ["Payments"],
                "summary": "Ingest a gateway webhook notification",
                "parameters": [
                    {"name": "X-Gateway-Signature", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Delivery handled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Signature mismatch"}
                }
            }
        },
        "/admin/transactions": {
            "get": {
                "tags": ["Admin"],
                "summary": "List transactions",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "userId", "in": "query", "type": "string"},
                    {"name": "courseId", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/transactions/summary": {
            "get": {
                "tags": ["Admin"],
                "summary": "Transaction totals per status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/transactions/export": {
            "get": {
                "tags": ["Admin"],
                "summary": "Export transactions as CSV",
                "produces": ["text/csv"],
                "responses": {
                    "200": {"description": "CSV payload"}
                }
            }
        },
        "/admin/transactions/{id}": {
            "get": {
                "tags": ["Admin"],
                "summary": "Transaction detail with audit trail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown payment"}
                }
            }
        },
        "/admin/transactions/{id}/resolve": {
            "post": {
                "tags": ["Admin"],
                "summary": "Apply an admin decision to a payment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ResolveRequest"}}
                ],
                "responses": {
                    "200": {"description": "Resolved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Payment already successful"}
                }
            }
        },
        "/admin/payments/manual": {
            "post": {
                "tags": ["Admin"],
                "summary": "Record an out-of-gateway settlement",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ManualPaymentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Enrollment already active"}
                }
            }
        },
        "/admin/payments/split": {
            "post": {
                "tags": ["Admin"],
                "summary": "Open an installment plan for an enrollment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SplitConfigureRequest"}}
                ],
                "responses": {
                    "201": {"description": "Plan opened", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Enrollment already active"}
                }
            }
        },
        "/admin/payments/split/record": {
            "post": {
                "tags": ["Admin"],
                "summary": "Record a further installment on a split plan",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SplitRecordRequest"}}
                ],
                "responses": {
                    "200": {"description": "Balance updated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already fully paid"}
                }
            }
        },
        "/admin/payments/split/{id}": {
            "get": {
                "tags": ["Admin"],
                "summary": "Derived balance of an enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/enrollments/{id}/cancel": {
            "post": {
                "tags": ["Admin"],
                "summary": "Withdraw an enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already cancelled"}
                }
            }
        },
        "/admin/payments/reminders/{id}": {
            "post": {
                "tags": ["Admin"],
                "summary": "Queue an outstanding balance reminder",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "202": {"description": "Reminder queued"},
                    "409": {"description": "Already fully paid"}
                }
            }
        },
        "/admin/payments/{id}/receipt": {
            "get": {
                "tags": ["Admin"],
                "summary": "Download a payment receipt as PDF",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF payload"},
                    "409": {"description": "Payment not successful"}
                }
            }
        },
        "/admin/payments/{id}/receipt/email": {
            "post": {
                "tags": ["Admin"],
                "summary": "Queue the receipt for delivery to the payer",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "202": {"description": "Receipt queued"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "InitiatePaymentRequest": {
            "type": "object",
            "required": ["user_id", "course_id"],
            "properties": {
                "user_id": {"type": "string"},
                "course_id": {"type": "string"},
                "path_id": {"type": "string"}
            }
        },
        "RetryPaymentRequest": {
            "type": "object",
            "required": ["enrollment_id"],
            "properties": {
                "enrollment_id": {"type": "string"}
            }
        },
        "ResolveRequest": {
            "type": "object",
            "required": ["action"],
            "properties": {
                "action": {"type": "string", "enum": ["mark_completed", "mark_failed", "cancel", "retry"]},
                "note": {"type": "string"}
            }
        },
        "ManualPaymentRequest": {
            "type": "object",
            "required": ["course_id", "amount", "method"],
            "properties": {
                "user_id": {"type": "string"},
                "email": {"type": "string"},
                "course_id": {"type": "string"},
                "amount": {"type": "number"},
                "method": {"type": "string"},
                "note": {"type": "string"}
            }
        },
        "SplitConfigureRequest": {
            "type": "object",
            "required": ["enrollment_id", "total_amount", "initial_paid", "method"],
            "properties": {
                "enrollment_id": {"type": "string"},
                "total_amount": {"type": "number"},
                "initial_paid": {"type": "number"},
                "method": {"type": "string"},
                "note": {"type": "string"}
            }
        },
        "SplitRecordRequest": {
            "type": "object",
            "required": ["enrollment_id", "amount", "method"],
            "properties": {
                "enrollment_id": {"type": "string"},
                "amount": {"type": "number"},
                "method": {"type": "string"},
                "note": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
