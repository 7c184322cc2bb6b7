package update

import "strings"

// ContainerName returns the value of the --name flag in docker run arguments.
// Both "--name value" and "--name=value" are recognized; the first wins.
func ContainerName(runArgs []string) string {
	for i, arg := range runArgs {
		if arg == "--name" {
			if i+1 < len(runArgs) {
				return runArgs[i+1]
			}
			return ""
		}
		if value, ok := strings.CutPrefix(arg, "--name="); ok {
			return value
		}
	}
	return ""
}
