// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"slices"

	"github.com/gin-gonic/gin"
)

// Identity is the authenticated caller as seen by handlers.
type Identity interface {
	// Subject returns the token subject.
	Subject() string
	HasRole(role string) bool
	IsAuthenticated() bool
}

type identity struct {
	subject string
	roles   []string
}

func (i *identity) Subject() string { return i.subject }

func (i *identity) HasRole(role string) bool { return slices.Contains(i.roles, role) }

func (i *identity) IsAuthenticated() bool { return i.subject != "" }

// GetIdentity extracts the Identity from a Gin context.
// Returns an unauthenticated identity if user info is not present.
func GetIdentity(c *gin.Context) Identity {
	subject := c.GetString(ContextUserIDKey)
	roles, _ := c.Get(ContextRolesKey)
	roleList, _ := roles.([]string)
	return &identity{subject: subject, roles: roleList}
}
