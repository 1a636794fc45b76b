package api

import (
	"github.com/filecoin-project/go-jsonrpc/auth"
)

const (
	PermRead  auth.Permission = "read" // default
	PermWrite auth.Permission = "write"
	PermAdmin auth.Permission = "admin" // Manage permissions
)

var AllPermissions = []auth.Permission{PermRead, PermWrite, PermAdmin}
var DefaultPerms = []auth.Permission{PermRead}

// PermissionedProxy rejects calls whose context lacks the permission a method
// of out is tagged with
func PermissionedProxy(in interface{}, out interface{}) {
	auth.PermissionedProxy(AllPermissions, DefaultPerms, in, out)
}
