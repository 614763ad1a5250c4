package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// PromptYesNo displays a yes/no question and returns the user's answer.
// It defaults to the `defaultYes` value if the user just presses Enter or in
// non-interactive mode.
func PromptYesNo(question string, defaultYes bool) bool {
	var prompt string
	if defaultYes {
		prompt = fmt.Sprintf("%s [Y/n] ", question)
	} else {
		prompt = fmt.Sprintf("%s [y/N] ", question)
	}

	if !IsTerminal() {
		fmt.Printf("%s (non-interactive, defaulting to %t)\n", prompt, defaultYes)
		return defaultYes
	}

	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		fmt.Printf("(error reading input, defaulting to %t)\n", defaultYes)
		return defaultYes
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return defaultYes
}
