package scorer

import (
	"regexp"
	"strconv"
	"strings"
)

var leadingInteger = regexp.MustCompile(`^[+-]?[0-9]+`)

// ParseScore extracts the leading integer from an oracle reply after
// trimming surrounding whitespace. Replies without one, and integers too
// large for int, score 0 with Parsed false. Scores are not clamped to the
// configured range.
func ParseScore(text string) (int, ScoreReply) {
	reply := ScoreReply{Text: text}

	match := leadingInteger.FindString(strings.TrimSpace(text))
	if match == "" {
		return 0, reply
	}

	score, err := strconv.Atoi(match)
	if err != nil {
		return 0, reply
	}

	reply.Parsed = true
	return score, reply
}
