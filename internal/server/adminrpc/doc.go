// Package adminrpc is the operator RPC of jalsync-server.
//
// The service is served with connect over the HTTP listener and uses
// protobuf well-known types as messages, so no generated code is needed:
//
//	jalsync.admin.v1.AdminService/ListSessions  Empty       -> Struct
//	jalsync.admin.v1.AdminService/EvictSession  StringValue -> Empty
//	jalsync.admin.v1.AdminService/LedgerStats   Empty       -> Struct
package adminrpc
