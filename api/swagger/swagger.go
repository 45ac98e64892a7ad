package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Librify API",
        "description": "Library attendance, membership and fee management",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Phone + password login"},
        {"name": "Students", "description": "Admission and roster"},
        {"name": "Attendance", "description": "Append-only attendance ledger"},
        {"name": "Membership", "description": "Membership lifecycle and history"},
        {"name": "Reports", "description": "Asynchronous CSV/PDF exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current session claims",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"},
                    {"name": "sort_by", "in": "query", "type": "string"},
                    {"name": "sort_order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Students"],
                "summary": "Admit student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AdmitStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation or overpayment error"}
                }
            }
        },
        "/students/{id}": {
            "get": {
                "tags": ["Students"],
                "summary": "Get student with derived membership status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/active": {
            "patch": {
                "tags": ["Students"],
                "summary": "Activate or deactivate a student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "object", "properties": {"active": {"type": "boolean"}}}}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/students/{id}/attendance/status": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Derived toggle state for a day",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "date", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/attendance/toggle": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Toggle check-in / check-out",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Concurrency conflict"}
                }
            }
        },
        "/students/{id}/attendance/qr": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Mark attendance from a QR scan",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/QRPayload"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload"},
                    "403": {"description": "Tenant mismatch"}
                }
            }
        },
        "/students/{id}/attendance/manual": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Record a manual entry",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordManualRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Out of sequence"}
                }
            }
        },
        "/students/{id}/attendance/daily": {
            "get": {
                "tags": ["Attendance"],
                "summary": "One day's derived attendance",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "date", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/attendance/monthly": {
            "get": {
                "tags": ["Attendance"],
                "summary": "One derived row per calendar day",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "year", "in": "query", "type": "integer"},
                    {"name": "month", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Library attendance dashboard",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "date", "in": "query", "type": "string"},
                    {"name": "date_from", "in": "query", "type": "string"},
                    {"name": "date_to", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/membership": {
            "get": {
                "tags": ["Membership"],
                "summary": "Derived membership status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "soon_days", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/membership/history": {
            "get": {
                "tags": ["Membership"],
                "summary": "Immutable membership snapshots",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/membership/renew": {
            "post": {
                "tags": ["Membership"],
                "summary": "Renew membership",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RenewMembershipRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid dates or overpayment"}
                }
            }
        },
        "/memberships/expiring": {
            "get": {
                "tags": ["Membership"],
                "summary": "Memberships ending within a day window",
                "parameters": [
                    {"name": "days", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/generate": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue a report export",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/status/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Report job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/export/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a finished export",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File stream"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "phone": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["phone", "password"]
        },
        "AdmitStudentRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "phone": {"type": "string"},
                "email": {"type": "string"},
                "address": {"type": "string"},
                "registration_no": {"type": "string"},
                "father_name": {"type": "string"},
                "government_id": {"type": "string"},
                "branch_id": {"type": "string"},
                "seat_id": {"type": "string"},
                "shift_id": {"type": "string"},
                "locker_id": {"type": "string"},
                "membership_start": {"type": "string"},
                "membership_end": {"type": "string"},
                "fees": {"$ref": "#/definitions/FeeBreakdown"}
            },
            "required": ["name", "phone", "membership_start", "membership_end"]
        },
        "RenewMembershipRequest": {
            "type": "object",
            "properties": {
                "membership_start": {"type": "string"},
                "membership_end": {"type": "string"},
                "fees": {"$ref": "#/definitions/FeeBreakdown"},
                "branch_id": {"type": "string"},
                "seat_id": {"type": "string"},
                "shift_id": {"type": "string"},
                "locker_id": {"type": "string"},
                "remark": {"type": "string"}
            },
            "required": ["membership_start", "membership_end"]
        },
        "RecordManualRequest": {
            "type": "object",
            "properties": {
                "direction": {"type": "string", "enum": ["in", "out"]},
                "at": {"type": "string"},
                "notes": {"type": "string"}
            },
            "required": ["direction", "at"]
        },
        "QRPayload": {
            "type": "object",
            "properties": {
                "library_id": {"type": "string"},
                "token": {"type": "string"},
                "issued_at": {"type": "integer"}
            },
            "required": ["library_id", "token"]
        },
        "CreateReportRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["attendance_register", "fee_collection"]},
                "format": {"type": "string", "enum": ["csv", "pdf"]},
                "date_from": {"type": "string"},
                "date_to": {"type": "string"}
            },
            "required": ["type", "format"]
        },
        "FeeBreakdown": {
            "type": "object",
            "properties": {
                "total_fee": {"type": "number"},
                "amount_paid": {"type": "number"},
                "due_amount": {"type": "number"},
                "cash_paid": {"type": "number"},
                "online_paid": {"type": "number"},
                "security_money": {"type": "number"},
                "discount": {"type": "number"}
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
