// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package mountinfo

import (
	"strings"
	"testing"
)

const sample = `36 35 98:0 / /system rw,relatime master:1 - ext4 /dev/block/dm-1 rw
37 36 98:0 /vendor /system/vendor rw,relatime master:1 - ext4 /dev/block/dm-2 rw
38 35 0:20 / /vendor rw,relatime - ext4 /dev/block/dm-3 rw
`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].MountPoint != "/system" || entries[0].FilesystemType != "ext4" {
		t.Errorf("entry[0] = %+v", entries[0])
	}
	if entries[1].MountPoint != "/system/vendor" {
		t.Errorf("entry[1].MountPoint = %q", entries[1].MountPoint)
	}
}

func TestChildrenUnder(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	children := ChildrenUnder(entries, "/system")
	if len(children) != 1 || children[0].MountPoint != "/system/vendor" {
		t.Errorf("ChildrenUnder(/system) = %+v", children)
	}
}

func TestParseMalformedLine(t *testing.T) {
	_, err := Parse(strings.NewReader("not a valid mountinfo line"))
	if err == nil {
		t.Fatal("expected error for malformed line")
	}
}
