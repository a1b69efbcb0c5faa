package emulator

import (
	"fmt"
	"strconv"
)

// MEmu console and port constants
const (
	MEmuConsoleName   = "memuc.exe"
	MEmuBasePort      = 21503
	MEmuPortIncrement = 10
)

// MEmuSerial returns the adb serial of the MEmu instance with the given
// index. Instance 0 listens on 21503 and each further one ten ports up.
func MEmuSerial(index int) string {
	return fmt.Sprintf("127.0.0.1:%d", MEmuBasePort+index*MEmuPortIncrement)
}

// MEmuStart returns the console command that boots one MEmu instance
func MEmuStart(consolePath string, index int) (string, []string) {
	return consolePath, []string{"start", "-i", strconv.Itoa(index)}
}
