// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernel implements the control-channel client for the HymoFS
// LKM (spec §4.5): a packed, versioned command protocol carried over
// an ioctl on a file descriptor obtained from the host-kernel root
// daemon.
package kernel

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hymofs/hymomount/internal/clock"
)

// statusMemoTTL bounds how long a cached CheckStatus result is trusted
// before the next call re-queries the LKM. The per-process memoization
// spec §4.5 describes is meant to avoid an ioctl per rule install
// within one mount run, not to survive a long-lived daemon across an
// LKM reload, hence the bound rather than a permanent cache.
const statusMemoTTL = 30 * time.Second

// ExpectedProtocolVersion is the version this client was built
// against (spec §6, EXPECTED_PROTOCOL_VERSION = 12).
const ExpectedProtocolVersion = 12

// hymoIoctl is the host-kernel ioctl command number that forwards a
// request to the LKM ("the host exposes an ioctl command `hymo`").
const hymoIoctl = 0xC0485900

type command uint32

const (
	cmdGetVersion command = 1
	cmdAddRule    command = 2
	cmdAddMerge   command = 3
	cmdDelRule    command = 4
	cmdHideRule   command = 5
	cmdClearAll   command = 6
	cmdListRules  command = 7
	cmdSetDebug   command = 8
	cmdSetStealth command = 9
	cmdSetEnabled command = 10
	cmdSetMirror  command = 11
	cmdSetUname   command = 12
	cmdReorderMnt command = 13
)

// requestSize is sizeof({cmd:u32, _pad:u32, arg:u64, result:i32})
// rounded up to 8-byte alignment per spec §4.5/§6.
const requestSize = 24

// Transport performs one ioctl round-trip, given a marshalled request
// buffer and an optional out-buffer for commands (LIST_RULES) that
// return variable-length data. It exists so tests can substitute a
// fake kernel without touching a real device node.
type Transport interface {
	Ioctl(req []byte, outBuf []byte) (result int32, outLen int, err error)
}

// deviceTransport issues the ioctl against a real device node,
// re-opening the fd for each call per spec §5 ("re-opened for each
// command (stateless)").
type deviceTransport struct {
	path string
}

func (d deviceTransport) Ioctl(req []byte, outBuf []byte) (int32, int, error) {
	fd, err := unix.Open(d.path, unix.O_RDWR, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("kernel unavailable: open %s: %w", d.path, err)
	}
	defer unix.Close(fd)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(hymoIoctl), uintptr(unsafe.Pointer(&req[0])))
	if errno != 0 {
		return 0, 0, fmt.Errorf("kernel unavailable: ioctl: %w", errno)
	}

	result := int32(binary.LittleEndian.Uint32(req[16:20]))
	return result, len(outBuf), nil
}

func marshalRequest(cmd command, arg uint64) []byte {
	buf := make([]byte, requestSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(cmd))
	binary.LittleEndian.PutUint64(buf[8:16], arg)
	return buf
}

// Status is the outcome of comparing the LKM's reported protocol
// version against [ExpectedProtocolVersion].
type Status string

const (
	StatusAvailable    Status = "Available"
	StatusNotPresent   Status = "NotPresent"
	StatusKernelTooOld Status = "KernelTooOld"
	StatusModuleTooOld Status = "ModuleTooOld"
)

// Rule is one parsed LIST_RULES entry.
type Rule struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
	Source string `json:"source,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Channel is the control-channel client.
type Channel struct {
	transport Transport
	clock     clock.Clock

	mu         sync.Mutex
	memoized   bool
	memoizedAt time.Time
	status     Status
	version    uint32
}

// New returns a Channel that issues ioctls against devicePath.
func New(devicePath string, c clock.Clock) *Channel {
	return &Channel{transport: deviceTransport{path: devicePath}, clock: c}
}

// NewWithTransport returns a Channel over a caller-supplied Transport,
// for tests.
func NewWithTransport(t Transport, c clock.Clock) *Channel {
	return &Channel{transport: t, clock: c}
}

func (c *Channel) call(cmd command, arg uint64) (int32, error) {
	req := marshalRequest(cmd, arg)
	result, _, err := c.transport.Ioctl(req, nil)
	return result, err
}

// CheckStatus computes Status by comparing GET_VERSION against
// [ExpectedProtocolVersion], memoized for [statusMemoTTL] (spec §4.5's
// check_status()).
func (c *Channel) CheckStatus() (Status, uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memoized && c.clock.Now().Sub(c.memoizedAt) < statusMemoTTL {
		return c.status, c.version
	}
	c.memoized = true
	c.memoizedAt = c.clock.Now()

	result, err := c.call(cmdGetVersion, 0)
	if err != nil {
		c.status = StatusNotPresent
		c.version = 0
		return c.status, c.version
	}

	version := uint32(result)
	c.version = version
	switch {
	case version == ExpectedProtocolVersion:
		c.status = StatusAvailable
	case version < ExpectedProtocolVersion:
		c.status = StatusKernelTooOld
	default:
		c.status = StatusModuleTooOld
	}
	return c.status, c.version
}

// ForgetStatus clears the memoized CheckStatus result so the next call
// re-queries the LKM immediately, instead of waiting out
// [statusMemoTTL]. Callers use this after an action that can change
// availability out from under the cache, such as installing the
// kernel module.
func (c *Channel) ForgetStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoized = false
}

// Available reports whether the fast path may be used unconditionally.
func (c *Channel) Available() bool {
	status, _ := c.CheckStatus()
	return status == StatusAvailable
}

// AddRule installs an ADD_RULE redirecting target to src.
func (c *Channel) AddRule(target, src string) error {
	args := &ruleArgs{Type: 0}
	putPath(args.Target[:], target)
	putPath(args.Src[:], src)
	_, err := c.call(cmdAddRule, argPointer(args))
	return err
}

// AddMergeRule installs a MERGE rule marking target opaque, populated
// from src.
func (c *Channel) AddMergeRule(target, src string) error {
	args := &mergeArgs{}
	putPath(args.Target[:], target)
	putPath(args.Src[:], src)
	_, err := c.call(cmdAddMerge, argPointer(args))
	return err
}

// DelRule removes the rule whose source is src.
func (c *Channel) DelRule(src string) error {
	args := &pathArgs{}
	putPath(args.Path[:], src)
	_, err := c.call(cmdDelRule, argPointer(args))
	return err
}

// HideRule installs a HIDE_RULE for path.
func (c *Channel) HideRule(path string) error {
	args := &pathArgs{}
	putPath(args.Path[:], path)
	_, err := c.call(cmdHideRule, argPointer(args))
	return err
}

// ClearAll removes every installed rule.
func (c *Channel) ClearAll() error {
	_, err := c.call(cmdClearAll, 0)
	return err
}

// SetDebug toggles the LKM debug log.
func (c *Channel) SetDebug(enabled bool) error { return c.boolCommand(cmdSetDebug, enabled) }

// SetStealth toggles stealth mode.
func (c *Channel) SetStealth(enabled bool) error { return c.boolCommand(cmdSetStealth, enabled) }

// SetEnabled toggles the LKM master switch.
func (c *Channel) SetEnabled(enabled bool) error { return c.boolCommand(cmdSetEnabled, enabled) }

// SetMirrorPath applies a mirror path override to the kernel.
func (c *Channel) SetMirrorPath(path string) error {
	args := &pathArgs{}
	putPath(args.Path[:], path)
	_, err := c.call(cmdSetMirror, argPointer(args))
	return err
}

// SetUname applies a uname identity spoof. An empty release and
// version clears the spoof, by convention — spec §9's open question,
// resolved in favor of "empty means clear".
func (c *Channel) SetUname(release, version string) error {
	args := &unameArgs{}
	putPath(args.Release[:], release)
	putPath(args.Version[:], version)
	_, err := c.call(cmdSetUname, argPointer(args))
	return err
}

// ReorderMountIDs asks the kernel to renumber mount IDs so newly added
// entries sort under pre-existing ones (spec §4.4 step 4).
func (c *Channel) ReorderMountIDs() error {
	_, err := c.call(cmdReorderMnt, 0)
	return err
}

// ListRules retrieves and parses the current rule list from the
// kernel's newline-separated LIST_RULES text response.
func (c *Channel) ListRules() ([]Rule, error) {
	outBuf := make([]byte, 64*1024)
	req := marshalRequest(cmdListRules, 0)
	_, n, err := c.transport.Ioctl(req, outBuf)
	if err != nil {
		return nil, err
	}
	return ParseRuleList(string(outBuf[:n]))
}

// ParseRuleList parses LIST_RULES newline-separated lines of the form
// "ADD <target> <source>", "MERGE <target> <source>", "HIDE <path>"
// (case-insensitive; spec §6 requires uppercasing before comparison).
func ParseRuleList(data string) ([]Rule, error) {
	var rules []Rule
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		verb := strings.ToUpper(fields[0])
		switch verb {
		case "ADD":
			if len(fields) != 3 {
				continue
			}
			rules = append(rules, Rule{Type: "add", Target: fields[1], Source: fields[2]})
		case "MERGE":
			if len(fields) != 3 {
				continue
			}
			rules = append(rules, Rule{Type: "merge", Target: fields[1], Source: fields[2]})
		case "HIDE":
			if len(fields) != 2 {
				continue
			}
			rules = append(rules, Rule{Type: "hide", Path: fields[1]})
		}
	}
	return rules, nil
}

func (c *Channel) boolCommand(cmd command, value bool) error {
	arg := uint64(0)
	if value {
		arg = 1
	}
	_, err := c.call(cmd, arg)
	return err
}

// maxPathArg is the fixed buffer size for a path embedded in a
// command argument struct; the LKM copies from user space so the
// layout must be fixed-size, not a Go string header.
const maxPathArg = 256

type pathArgs struct {
	Path [maxPathArg]byte
}

type ruleArgs struct {
	Src    [maxPathArg]byte
	Target [maxPathArg]byte
	Type   int32
}

type mergeArgs struct {
	Src    [maxPathArg]byte
	Target [maxPathArg]byte
}

type unameArgs struct {
	Release [65]byte
	Version [65]byte
}

// putPath copies s (truncated if necessary) into a fixed-size,
// NUL-terminated byte array for one of the *args structs above.
func putPath(dst []byte, s string) {
	n := copy(dst, s)
	if n < len(dst) {
		dst[n] = 0
	}
}

// argPointer returns the user-space pointer value the LKM receives as
// the Arg field: the address of a command-specific struct holding the
// fixed-size path buffers above.
func argPointer(args any) uint64 {
	switch a := args.(type) {
	case *pathArgs:
		return uint64(uintptr(unsafe.Pointer(a)))
	case *ruleArgs:
		return uint64(uintptr(unsafe.Pointer(a)))
	case *mergeArgs:
		return uint64(uintptr(unsafe.Pointer(a)))
	case *unameArgs:
		return uint64(uintptr(unsafe.Pointer(a)))
	default:
		panic(fmt.Sprintf("kernel: argPointer: unsupported type %T", args))
	}
}
