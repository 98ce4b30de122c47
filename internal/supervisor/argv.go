package supervisor

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand splits a child command line such as
// "valgrind --tool=helgrind --xml-file=out.xml" shell style.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid child command %q: %w", command, err)
	}
	return args, nil
}

// BuildArgv assembles the child argv: the wrapper command, the gateway
// binary unless the command already ends with it, extra arguments and the
// config file last.
func BuildArgv(command []string, binary string, extra []string, configFile string) []string {
	argv := append([]string(nil), command...)
	if binary != "" && (len(argv) == 0 || argv[len(argv)-1] != binary) {
		argv = append(argv, binary)
	}
	argv = append(argv, extra...)
	if configFile != "" {
		argv = append(argv, configFile)
	}
	return argv
}

// mergeEnv overlays overrides on base without touching the harness's own
// environment. Overridden keys keep no stale duplicate.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := overrides[key]; overridden {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

// LookupEnv resolves key in overrides first, then the process environment.
func LookupEnv(overrides map[string]string, key string) (string, bool) {
	if v, ok := overrides[key]; ok {
		return v, true
	}
	return os.LookupEnv(key)
}
