// Package api implements HTTP handlers and helpers for the routing service.
package api

import (
	"net/http"
	"strings"
)

// Roles.
const (
	RoleAdmin    = "admin"
	RoleMerchant = "merchant"
	RoleCustomer = "customer"
)

type Principal struct {
	Role       string // admin, merchant, customer
	MerchantID string
}

// getPrincipal reads the caller from headers. Authentication happens in
// front of the service; a missing role means admin for local development.
func (s *Server) getPrincipal(r *http.Request) Principal {
	role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role")))
	if role == "" {
		role = RoleAdmin
	}
	return Principal{Role: role, MerchantID: strings.TrimSpace(r.Header.Get("X-Merchant-Id"))}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanActFor reports whether the principal may optimize, read or update the
// routes of merchantID.
func (p Principal) CanActFor(merchantID string) bool {
	if p.IsAdmin() {
		return true
	}
	return p.Role == RoleMerchant && p.MerchantID != "" && p.MerchantID == merchantID
}
