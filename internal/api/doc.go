// Package api contains the HTTP handlers for the delivery control plane:
// enqueue and drain, the read-only analytics endpoints, the policy draft
// workflow, guardian policy management, and the audit trail. Handlers decode
// and validate requests, delegate to the domain services, and map internal
// errors to sanitized HTTP responses.
package api
