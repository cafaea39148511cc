// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the numeric constants of the nslcd request
// protocol spoken over the daemon's Unix socket.
//
// A request is the protocol version, an action code, and
// action-specific parameters. A response echoes the version and action,
// then carries zero or more records each preceded by ResultBegin, and
// ends with ResultEnd.
package protocol

import "fmt"

// Version is the only protocol version the daemon answers.
const Version int32 = 0x00000002

// Result markers.
const (
	ResultBegin int32 = 1
	ResultEnd   int32 = 2
)

// Action identifies a request type.
type Action int32

// Action codes. The high 16 bits select the map, the low bits the
// lookup style.
const (
	ActionConfigGet Action = 0x00010001

	ActionAliasByName Action = 0x00020001
	ActionAliasAll    Action = 0x00020008

	ActionEtherByName  Action = 0x00030001
	ActionEtherByEther Action = 0x00030002
	ActionEtherAll     Action = 0x00030008

	ActionGroupByName   Action = 0x00040001
	ActionGroupByGID    Action = 0x00040002
	ActionGroupByMember Action = 0x00040006
	ActionGroupAll      Action = 0x00040008

	ActionHostByName Action = 0x00050001
	ActionHostByAddr Action = 0x00050002
	ActionHostAll    Action = 0x00050008

	ActionNetgroupByName Action = 0x00060001
	ActionNetgroupAll    Action = 0x00060008

	ActionNetworkByName Action = 0x00070001
	ActionNetworkByAddr Action = 0x00070002
	ActionNetworkAll    Action = 0x00070008

	ActionPasswdByName Action = 0x00080001
	ActionPasswdByUID  Action = 0x00080002
	ActionPasswdAll    Action = 0x00080008

	ActionProtocolByName   Action = 0x00090001
	ActionProtocolByNumber Action = 0x00090002
	ActionProtocolAll      Action = 0x00090008

	ActionRPCByName   Action = 0x000a0001
	ActionRPCByNumber Action = 0x000a0002
	ActionRPCAll      Action = 0x000a0008

	ActionServiceByName   Action = 0x000b0001
	ActionServiceByNumber Action = 0x000b0002
	ActionServiceAll      Action = 0x000b0008

	ActionShadowByName Action = 0x000c0001
	ActionShadowAll    Action = 0x000c0008

	ActionPAMAuthc Action = 0x000d0001
)

var actionNames = map[Action]string{
	ActionConfigGet:        "config_get",
	ActionAliasByName:      "alias_byname",
	ActionAliasAll:         "alias_all",
	ActionEtherByName:      "ether_byname",
	ActionEtherByEther:     "ether_byether",
	ActionEtherAll:         "ether_all",
	ActionGroupByName:      "group_byname",
	ActionGroupByGID:       "group_bygid",
	ActionGroupByMember:    "group_bymember",
	ActionGroupAll:         "group_all",
	ActionHostByName:       "host_byname",
	ActionHostByAddr:       "host_byaddr",
	ActionHostAll:          "host_all",
	ActionNetgroupByName:   "netgroup_byname",
	ActionNetgroupAll:      "netgroup_all",
	ActionNetworkByName:    "network_byname",
	ActionNetworkByAddr:    "network_byaddr",
	ActionNetworkAll:       "network_all",
	ActionPasswdByName:     "passwd_byname",
	ActionPasswdByUID:      "passwd_byuid",
	ActionPasswdAll:        "passwd_all",
	ActionProtocolByName:   "protocol_byname",
	ActionProtocolByNumber: "protocol_bynumber",
	ActionProtocolAll:      "protocol_all",
	ActionRPCByName:        "rpc_byname",
	ActionRPCByNumber:      "rpc_bynumber",
	ActionRPCAll:           "rpc_all",
	ActionServiceByName:    "service_byname",
	ActionServiceByNumber:  "service_bynumber",
	ActionServiceAll:       "service_all",
	ActionShadowByName:     "shadow_byname",
	ActionShadowAll:        "shadow_all",
	ActionPAMAuthc:         "pam_authc",
}

// String returns the lowercase action name, or the hex code for an
// unknown action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(0x%08x)", int32(a))
}

// Known reports whether a is a defined action code.
func (a Action) Known() bool {
	_, ok := actionNames[a]
	return ok
}

// Configuration options for ActionConfigGet.
const (
	ConfigPAMPasswordProhibitMessage int32 = 852
)

// Netgroup member markers. Each netgroup member is sent as its own
// result tuple introduced by one of these.
const (
	NetgroupTypeNetgroup int32 = 123
	NetgroupTypeTriple   int32 = 456
)

// PAMStatus is a Linux-PAM return code.
type PAMStatus int32

// PAM return codes used in authentication responses.
const (
	PAMSuccess         PAMStatus = 0
	PAMPermDenied      PAMStatus = 6
	PAMAuthErr         PAMStatus = 7
	PAMAuthInfoUnavail PAMStatus = 9
	PAMUserUnknown     PAMStatus = 10
	PAMNewAuthtokReqd  PAMStatus = 12
	PAMAcctExpired     PAMStatus = 13
	PAMAuthtokExpired  PAMStatus = 27
)

func (s PAMStatus) String() string {
	switch s {
	case PAMSuccess:
		return "success"
	case PAMPermDenied:
		return "permission denied"
	case PAMAuthErr:
		return "authentication failure"
	case PAMAuthInfoUnavail:
		return "authentication information unavailable"
	case PAMUserUnknown:
		return "user unknown"
	case PAMNewAuthtokReqd:
		return "new authentication token required"
	case PAMAcctExpired:
		return "account expired"
	case PAMAuthtokExpired:
		return "authentication token expired"
	}
	return fmt.Sprintf("pam(%d)", int32(s))
}
