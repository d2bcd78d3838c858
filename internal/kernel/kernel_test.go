// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/hymofs/hymomount/internal/clock"
)

var timeEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeTransport returns a fixed result for every ioctl, recording the
// commands it was asked to perform.
type fakeTransport struct {
	version int32
	rules   string
	calls   []command
}

func (f *fakeTransport) Ioctl(req []byte, outBuf []byte) (int32, int, error) {
	cmd := command(binary.LittleEndian.Uint32(req[0:4]))
	f.calls = append(f.calls, cmd)

	if cmd == cmdGetVersion {
		return f.version, 0, nil
	}
	if cmd == cmdListRules && outBuf != nil {
		n := copy(outBuf, f.rules)
		return int32(n), n, nil
	}
	return 0, 0, nil
}

func TestCheckStatusAvailable(t *testing.T) {
	ft := &fakeTransport{version: ExpectedProtocolVersion}
	c := NewWithTransport(ft, clock.Real())

	status, version := c.CheckStatus()
	if status != StatusAvailable {
		t.Errorf("status = %q, want Available", status)
	}
	if version != ExpectedProtocolVersion {
		t.Errorf("version = %d, want %d", version, ExpectedProtocolVersion)
	}
}

func TestCheckStatusKernelTooOld(t *testing.T) {
	ft := &fakeTransport{version: ExpectedProtocolVersion - 1}
	c := NewWithTransport(ft, clock.Real())

	status, _ := c.CheckStatus()
	if status != StatusKernelTooOld {
		t.Errorf("status = %q, want KernelTooOld", status)
	}
}

func TestCheckStatusModuleTooOld(t *testing.T) {
	ft := &fakeTransport{version: ExpectedProtocolVersion + 1}
	c := NewWithTransport(ft, clock.Real())

	status, _ := c.CheckStatus()
	if status != StatusModuleTooOld {
		t.Errorf("status = %q, want ModuleTooOld", status)
	}
}

func TestCheckStatusIsMemoized(t *testing.T) {
	ft := &fakeTransport{version: ExpectedProtocolVersion}
	c := NewWithTransport(ft, clock.Real())

	c.CheckStatus()
	c.CheckStatus()

	count := 0
	for _, call := range ft.calls {
		if call == cmdGetVersion {
			count++
		}
	}
	if count != 1 {
		t.Errorf("GET_VERSION issued %d times, want exactly 1 (memoized)", count)
	}
}

func TestCheckStatusReQueriesAfterTTLExpires(t *testing.T) {
	ft := &fakeTransport{version: ExpectedProtocolVersion}
	fc := clock.Fake(timeEpoch)
	c := NewWithTransport(ft, fc)

	c.CheckStatus()
	fc.Advance(statusMemoTTL - time.Second)
	c.CheckStatus()
	fc.Advance(2 * time.Second)
	c.CheckStatus()

	count := 0
	for _, call := range ft.calls {
		if call == cmdGetVersion {
			count++
		}
	}
	if count != 2 {
		t.Errorf("GET_VERSION issued %d times, want 2 (one before and one after TTL expiry)", count)
	}
}

func TestForgetStatusForcesReQuery(t *testing.T) {
	ft := &fakeTransport{version: ExpectedProtocolVersion - 1}
	c := NewWithTransport(ft, clock.Real())

	status, _ := c.CheckStatus()
	if status != StatusKernelTooOld {
		t.Fatalf("status = %q, want KernelTooOld", status)
	}

	ft.version = ExpectedProtocolVersion
	c.ForgetStatus()
	status, _ = c.CheckStatus()
	if status != StatusAvailable {
		t.Errorf("status after ForgetStatus = %q, want Available", status)
	}
}

func TestParseRuleList(t *testing.T) {
	data := "ADD /system/etc/hosts /mirror/a/system/etc/hosts\n" +
		"merge /system/app/Foo /mirror/b/system/app/Foo\n" +
		"Hide /system/app/Bloat/Bloat.apk\n"

	rules, err := ParseRuleList(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rules))
	}
	if rules[0].Type != "add" || rules[0].Target != "/system/etc/hosts" {
		t.Errorf("rules[0] = %+v", rules[0])
	}
	if rules[1].Type != "merge" {
		t.Errorf("rules[1].Type = %q, want merge", rules[1].Type)
	}
	if rules[2].Type != "hide" || rules[2].Path != "/system/app/Bloat/Bloat.apk" {
		t.Errorf("rules[2] = %+v", rules[2])
	}
}

func TestListRulesRoundTrip(t *testing.T) {
	ft := &fakeTransport{rules: "ADD /a /b\nHIDE /c\n"}
	c := NewWithTransport(ft, clock.Real())

	rules, err := c.ListRules()
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
}

func TestAddRuleThenDelRuleCallShape(t *testing.T) {
	ft := &fakeTransport{}
	c := NewWithTransport(ft, clock.Real())

	if err := c.AddRule("/system/etc/hosts", "/mirror/a/system/etc/hosts"); err != nil {
		t.Fatal(err)
	}
	if err := c.DelRule("/mirror/a/system/etc/hosts"); err != nil {
		t.Fatal(err)
	}
	if len(ft.calls) != 2 || ft.calls[0] != cmdAddRule || ft.calls[1] != cmdDelRule {
		t.Errorf("calls = %v, want [AddRule, DelRule]", ft.calls)
	}
}
