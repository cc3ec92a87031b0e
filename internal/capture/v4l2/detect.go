// SPDX-License-Identifier: MIT

package v4l2

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DetectDevices lists /dev/videoN character-device nodes present on the
// system, sorted by node number, without opening any of them.
func DetectDevices() ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ni, _ := strconv.Atoi(strings.TrimPrefix(out[i], "/dev/video"))
		nj, _ := strconv.Atoi(strings.TrimPrefix(out[j], "/dev/video"))
		return ni < nj
	})
	return out, nil
}
