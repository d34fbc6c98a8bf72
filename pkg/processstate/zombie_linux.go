package processstate

import (
	"os"
	"strconv"
	"strings"
)

// isZombie reads the state field of /proc/<pid>/stat
func isZombie(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	// comm may contain spaces and parens; state follows the last ')'
	stat := string(data)
	idx := strings.LastIndexByte(stat, ')')
	if idx < 0 || idx+2 >= len(stat) {
		return false
	}
	return stat[idx+2] == 'Z'
}
