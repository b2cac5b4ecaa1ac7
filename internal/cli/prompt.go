package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Interactive reports whether stdin is a terminal.
func Interactive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// PromptForPicks asks for 1-based choices between 1 and max, separated by
// commas or spaces. Returns []int{1} if the user enters nothing.
func PromptForPicks(in io.Reader, max int) []int {
	fmt.Printf("Generate which suggestions? (1-%d) [1]: ", max)

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read input, using first suggestion")
		return []int{1}
	}

	picks, err := ParsePicks(input, max)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid choice, using first suggestion")
		return []int{1}
	}
	if len(picks) == 0 {
		return []int{1}
	}
	return picks
}

// ParsePicks parses a list like "1, 3 4". Duplicates are dropped.
func ParsePicks(input string, max int) ([]int, error) {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	seen := make(map[int]bool, len(fields))
	var picks []int
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", f)
		}
		if n < 1 || n > max {
			return nil, fmt.Errorf("%d is out of range 1-%d", n, max)
		}
		if !seen[n] {
			seen[n] = true
			picks = append(picks, n)
		}
	}
	return picks, nil
}
