// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "testing"

func TestActionNames(t *testing.T) {
	seen := make(map[string]Action)
	for action, name := range actionNames {
		if other, ok := seen[name]; ok {
			t.Errorf("name %q used by %v and %v", name, int32(other), int32(action))
		}
		seen[name] = action
		if !action.Known() {
			t.Errorf("%s not Known", name)
		}
	}
	if got := ActionPasswdByName.String(); got != "passwd_byname" {
		t.Errorf("String() = %q", got)
	}
	if got := Action(0x00ff0001).String(); got != "action(0x00ff0001)" {
		t.Errorf("unknown String() = %q", got)
	}
	if Action(0x00ff0001).Known() {
		t.Error("unknown action reported as Known")
	}
}

func TestActionCodes(t *testing.T) {
	// Spot checks against values compiled into client NSS modules.
	tests := []struct {
		action Action
		code   int32
	}{
		{ActionConfigGet, 0x00010001},
		{ActionGroupByMember, 0x00040006},
		{ActionPasswdByUID, 0x00080002},
		{ActionShadowAll, 0x000c0008},
		{ActionPAMAuthc, 0x000d0001},
	}
	for _, test := range tests {
		if int32(test.action) != test.code {
			t.Errorf("%s = 0x%08x, want 0x%08x", test.action, int32(test.action), test.code)
		}
	}
}
