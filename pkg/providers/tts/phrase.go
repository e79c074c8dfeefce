package tts

import "strings"

// SplitIntoPhrases splits text into phrases suitable for incremental TTS
// synthesis, targeting natural sentence/paragraph boundaries so each phrase
// can be sent to the synthesizer as soon as it's ready rather than waiting
// for the full response. Ported line-for-line from the original
// implementation's split_into_phrases.
func SplitIntoPhrases(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) < 80 {
		return []string{trimmed}
	}

	chars := []rune(trimmed)
	n := len(chars)

	var phrases []string
	var current []rune

	for i := 0; i < n; i++ {
		current = append(current, chars[i])

		isPunct := (chars[i] == '.' || chars[i] == '!' || chars[i] == '?') &&
			(i+1 >= n || isSpace(chars[i+1]))
		isPara := chars[i] == '\n' && len(strings.TrimSpace(string(current))) > 10

		if isPunct || isPara {
			s := strings.TrimSpace(string(current))
			if s != "" {
				phrases = append(phrases, s)
			}
			current = current[:0]
			for i+1 < n && isSpace(chars[i+1]) {
				i++
			}
		}
	}

	remainder := strings.TrimSpace(string(current))
	if remainder != "" {
		if len(remainder) < 15 {
			if len(phrases) > 0 {
				phrases[len(phrases)-1] = phrases[len(phrases)-1] + " " + remainder
			} else {
				phrases = append(phrases, remainder)
			}
		} else {
			phrases = append(phrases, remainder)
		}
	}

	var merged []string
	carry := ""
	for _, s := range phrases {
		switch {
		case carry != "":
			carry = carry + " " + s
			if len(carry) >= 20 {
				merged = append(merged, carry)
				carry = ""
			}
		case len(s) < 20:
			carry = s
		default:
			merged = append(merged, s)
		}
	}
	if carry != "" {
		if len(merged) > 0 {
			merged[len(merged)-1] = merged[len(merged)-1] + " " + carry
		} else {
			merged = append(merged, carry)
		}
	}

	if len(merged) == 0 {
		return []string{trimmed}
	}
	return merged
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
