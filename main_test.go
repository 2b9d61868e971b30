package main

import (
	"strings"
	"testing"
)

func TestHelpIsRecognizedBeforeConfiguration(t *testing.T) {
	// help must be answerable without a loadable environment, so it is
	// recognized up front rather than inside the configured dispatch
	for _, spelling := range []string{"help", "-h", "--help"} {
		if !isHelp(spelling) {
			t.Errorf("Expected %q to be recognized as a help request", spelling)
		}
	}
	if isHelp("stage") {
		t.Error("Expected stage to not be a help request")
	}
}

func TestUnknownCommandIsRejectedUpFront(t *testing.T) {
	for _, command := range []string{"", "stag", "download", "HELP"} {
		if knownCommands[command] {
			t.Errorf("Expected %q to be rejected", command)
		}
	}
}

func TestEveryDocumentedCommandDispatches(t *testing.T) {
	// Each command listed in the usage text must pass the up-front guard,
	// otherwise it would be rejected before reaching its handler
	for _, line := range strings.Split(usage, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(line, "  ") {
			continue
		}
		command := fields[0]
		if !knownCommands[command] {
			t.Errorf("Expected documented command %q to be dispatchable", command)
		}
	}
}
