package session

import (
	"fmt"
	"strings"
)

// Environment overrides that keep interactive pagers from swallowing output.
var pagerDisableEnv = []struct {
	name  string
	value string
}{
	{"PAGER", "cat"},
	{"SYSTEMD_PAGER", ""},
	{"GIT_PAGER", "cat"},
	{"LESS", "-F -X -R"},
	{"MANPAGER", "cat"},
	{"BAT_PAGER", ""},
}

// Programs that start a pager on their own, with the flag that turns it off.
var pagerCommands = map[string]string{
	"journalctl": "--no-pager",
	"systemctl":  "--no-pager",
	"git":        "--no-pager",
}

// preprocessCommand rewrites a command so it cannot block on a pager waiting
// for a keypress that will never come. The original command text is what the
// caller sees in results; only the transmitted form is rewritten.
func preprocessCommand(command string, disablePager bool) string {
	if !disablePager {
		return command
	}

	parts := strings.Fields(strings.TrimSpace(command))
	if len(parts) > 0 {
		if flag, ok := pagerCommands[parts[0]]; ok && !strings.Contains(command, flag) {
			command = strings.Join(append([]string{parts[0], flag}, parts[1:]...), " ")
		}
	}

	pairs := make([]string, 0, len(pagerDisableEnv))
	for _, e := range pagerDisableEnv {
		pairs = append(pairs, fmt.Sprintf("%s='%s'", e.name, e.value))
	}

	return "export " + strings.Join(pairs, " ") + "; " + command
}
