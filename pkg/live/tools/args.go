package tools

import (
	"fmt"
	"strings"
)

type argError struct {
	key string
	msg string
}

func (e *argError) Error() string {
	return fmt.Sprintf("argument %q %s", e.key, e.msg)
}

// optionalString returns "" for absent or null values.
func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &argError{key: key, msg: fmt.Sprintf("must be a string, got %T", v)}
	}
	return strings.TrimSpace(s), nil
}

func requiredString(args map[string]any, key string) (string, error) {
	if v, ok := args[key]; !ok || v == nil {
		return "", &argError{key: key, msg: "is required"}
	}
	s, err := optionalString(args, key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", &argError{key: key, msg: "must not be empty"}
	}
	return s, nil
}

func requiredBool(args map[string]any, key string) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return false, &argError{key: key, msg: "is required"}
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, &argError{key: key, msg: fmt.Sprintf("must be a boolean, got %T", v)}
}

// stringList accepts both decoded JSON arrays and native string slices.
func stringList(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, &argError{key: key, msg: "is required"}
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &argError{key: key, msg: fmt.Sprintf("item %d must be a string, got %T", i, item)}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &argError{key: key, msg: fmt.Sprintf("must be a list of strings, got %T", v)}
	}
}
