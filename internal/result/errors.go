package result

import (
	"regexp"
	"strings"
)

// executionErrorPatterns are signatures of a device or driver that could not run the workload.
var executionErrorPatterns = []string{
	`no kernel image is available for execution on the device`,
	`GPUEngine: Kernel:`,
	`CUDA error`,
	`GPU error`,
	`unsupported GPU`,
	`cannot launch kernel`,
	`invalid device function`,
	`incompatible GPU`,
	`device not found`,
	`failed to initialize`,
}

var executionErrorRegexp = compileExecutionErrors(executionErrorPatterns)

func compileExecutionErrors(patterns []string) *regexp.Regexp {
	quoted := make([]string, 0, len(patterns))
	for _, p := range patterns {
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	return regexp.MustCompile(`(?i)(` + strings.Join(quoted, "|") + `)`)
}

// HasExecutionError reports whether the log text contains an execution-error signature.
func HasExecutionError(text []byte) bool {
	return executionErrorRegexp.Match(text)
}

// ExecutionErrorSignature returns the first matching signature, or "".
func ExecutionErrorSignature(text []byte) string {
	return string(executionErrorRegexp.Find(text))
}
