package server

import (
	"net/http"

	"github.com/google/uuid"
)

// Identity headers set by the authenticating proxy in front of the service.
const (
	headerTenantID = "X-Tenant-ID"
	headerUserID   = "X-User-ID"
)

type identity struct {
	TenantID string
	UserID   string
}

// identityFrom reads the caller's tenant and user. Both must be UUIDs;
// they are returned in canonical lowercase form so that one tenant always
// maps to one channel.
func identityFrom(r *http.Request) (identity, error) {
	tenant, err := uuid.Parse(r.Header.Get(headerTenantID))
	if err != nil {
		return identity{}, inputError(headerTenantID + " header must be a UUID")
	}
	user, err := uuid.Parse(r.Header.Get(headerUserID))
	if err != nil {
		return identity{}, inputError(headerUserID + " header must be a UUID")
	}
	return identity{TenantID: tenant.String(), UserID: user.String()}, nil
}
