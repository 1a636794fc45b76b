package apistruct

import (
	"github.com/filecoin-project/go-dataspace/api"
)

func PermissionedDataspaceAPI(a api.Dataspace) api.Dataspace {
	var out DataspaceStruct
	api.PermissionedProxy(a, &out.CommonStruct.Internal)
	api.PermissionedProxy(a, &out.Internal)
	return &out
}
