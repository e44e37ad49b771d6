package hostcall

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-sandbox/errors"
)

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// ParseSignatures extracts host function signatures from WIT text.
// Pattern: [export] name: func(params) -> result;
// Only scalar WIT types are accepted; they lower to i32, i64, f32 or f64.
func ParseSignatures(witText string) (map[string]Signature, error) {
	sigs := make(map[string]Signature)

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		name := match[1]
		paramsStr := strings.TrimSpace(match[2])
		resultStr := strings.TrimSpace(match[3])

		var sig Signature
		for _, p := range splitParams(paramsStr) {
			typStr := p
			if idx := strings.LastIndex(p, ":"); idx != -1 {
				typStr = strings.TrimSpace(p[idx+1:])
			}
			vt, err := lowerWitType(typStr)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err,
					fmt.Sprintf("%s: param type %s", name, typStr))
			}
			sig.Params = append(sig.Params, vt)
		}

		if resultStr != "" && resultStr != "()" {
			parts := []string{resultStr}
			if strings.HasPrefix(resultStr, "(") && strings.HasSuffix(resultStr, ")") {
				parts = splitParams(resultStr[1 : len(resultStr)-1])
			}
			for _, part := range parts {
				if idx := strings.LastIndex(part, ":"); idx != -1 {
					part = part[idx+1:]
				}
				vt, err := lowerWitType(part)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err,
						fmt.Sprintf("%s: result type %s", name, part))
				}
				sig.Results = append(sig.Results, vt)
			}
		}

		sigs[name] = sig
	}

	return sigs, nil
}

func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}
	return result
}

// lowerWitType maps a scalar WIT type to its flat core wasm type.
func lowerWitType(s string) (api.ValueType, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, nil
	case wit.U64, wit.S64:
		return api.ValueTypeI64, nil
	case wit.F32:
		return api.ValueTypeF32, nil
	case wit.F64:
		return api.ValueTypeF64, nil
	default:
		return 0, errors.Unsupported(errors.PhaseHost,
			fmt.Sprintf("WIT type %s cannot cross the host-call boundary", s))
	}
}
