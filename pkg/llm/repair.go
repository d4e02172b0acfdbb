package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MalformedResponseError indicates the model's raw reply could not be parsed
// as JSON even after the repair pass. Raw keeps the original text for
// diagnostics.
type MalformedResponseError struct {
	Raw   string
	cause error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response: %v", e.cause)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.cause
}

// ParseModelJSON decodes the text a model returned. Strict decoding is
// attempted first; on failure a repair pass handles the defects LLMs
// commonly emit: markdown code fences, surrounding prose, trailing commas,
// single-quoted strings, and unterminated strings or brackets. Either a
// fully parsed value is returned or the call fails; partial data is never
// produced.
func ParseModelJSON(raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)

	var value any
	strictErr := json.Unmarshal([]byte(trimmed), &value)
	if strictErr == nil {
		return value, nil
	}

	repaired, ok := repairJSON(trimmed)
	if ok {
		if err := json.Unmarshal([]byte(repaired), &value); err == nil {
			return value, nil
		}
	}

	return nil, &MalformedResponseError{Raw: raw, cause: strictErr}
}

// repairJSON rebuilds the first JSON value embedded in s. It walks the text
// with string-awareness, dropping trailing commas, rewriting single-quoted
// strings, balancing brackets, and cutting any prose before or after the
// value. Returns false when no JSON value starts anywhere in s.
func repairJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}

	var (
		buf      []byte
		stack    []byte
		inString bool
		inSingle bool
		escaped  bool
	)

	for i := start; i < len(s); i++ {
		ch := s[i]

		if inString {
			buf = append(buf, ch)
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		if inSingle {
			if escaped {
				escaped = false
				buf = append(buf, ch)
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '\'':
				buf = append(buf, '"')
				inSingle = false
			case '"':
				buf = append(buf, '\\', '"')
			default:
				buf = append(buf, ch)
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			buf = append(buf, ch)
		case '\'':
			inSingle = true
			buf = append(buf, '"')
		case '{':
			stack = append(stack, '}')
			buf = append(buf, ch)
		case '[':
			stack = append(stack, ']')
			buf = append(buf, ch)
		case '}', ']':
			buf = trimTrailingComma(buf)
			if len(stack) == 0 {
				// stray closer with nothing open, drop it
				continue
			}
			// on mismatch, close what is actually open
			buf = append(buf, stack[len(stack)-1])
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				// the value is complete, cut any trailing prose
				return string(buf), true
			}
		default:
			buf = append(buf, ch)
		}
	}

	if inString || inSingle {
		buf = append(buf, '"')
	}
	buf = trimTrailingComma(buf)
	for i := len(stack) - 1; i >= 0; i-- {
		buf = append(buf, stack[i])
	}

	return string(buf), true
}

func trimTrailingComma(buf []byte) []byte {
	end := len(buf)
	for end > 0 {
		switch buf[end-1] {
		case ' ', '\t', '\n', '\r':
			end--
		case ',':
			return buf[:end-1]
		default:
			return buf[:end]
		}
	}
	return buf[:end]
}
